package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"sponsorengage/studysync/config"
	"sponsorengage/studysync/cpms"
	"sponsorengage/studysync/database"
	"sponsorengage/studysync/reconcile"
	"sponsorengage/studysync/status"
)

// Response types for JSON serialization

type StudyResponse struct {
	ID                     int64              `json:"id"`
	CPMSID                 int64              `json:"cpms_id"`
	ShortTitle             string             `json:"short_title"`
	Status                 string             `json:"status"`
	ExternalStatus         string             `json:"external_status"`
	PlannedOpeningDate     *string            `json:"planned_opening_date,omitempty"`
	ActualOpeningDate      *string            `json:"actual_opening_date,omitempty"`
	PlannedClosureDate     *string            `json:"planned_closure_date,omitempty"`
	ActualClosureDate      *string            `json:"actual_closure_date,omitempty"`
	EstimatedReopeningDate *string            `json:"estimated_reopening_date,omitempty"`
	UKRecruitmentTarget    *int32             `json:"uk_recruitment_target,omitempty"`
	TotalRecruitmentToDate *int32             `json:"total_recruitment_to_date,omitempty"`
	ManagingAdministration string             `json:"managing_administration"`
	DueAssessment          *bool              `json:"due_assessment,omitempty"`
	Categories             []CategoryResponse `json:"categories"`
	ExternalUnavailable    bool               `json:"external_unavailable"`
}

type CategoryResponse struct {
	IndicatorType  string  `json:"indicator_type"`
	IndicatorValue string  `json:"indicator_value"`
	SampleSize     *int32  `json:"sample_size,omitempty"`
	ExpectedReopen *string `json:"expected_reopening_date,omitempty"`
}

type StudyListResponse struct {
	Studies []StudyListEntry `json:"studies"`
	Total   int64            `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

type StudyListEntry struct {
	ID            int64  `json:"id"`
	CPMSID        int64  `json:"cpms_id"`
	ShortTitle    string `json:"short_title"`
	Status        string `json:"status"`
	DueAssessment *bool  `json:"due_assessment,omitempty"`
}

type EditPayload struct {
	Status                 string  `json:"status"`
	PlannedOpeningDate     *string `json:"planned_opening_date"`
	ActualOpeningDate      *string `json:"actual_opening_date"`
	PlannedClosureDate     *string `json:"planned_closure_date"`
	ActualClosureDate      *string `json:"actual_closure_date"`
	EstimatedReopeningDate *string `json:"estimated_reopening_date"`
	UKRecruitmentTarget    *int32  `json:"uk_recruitment_target"`
	Comment                string  `json:"comment"`
}

type EditResponse struct {
	Applied bool   `json:"applied"`
	Warning string `json:"warning,omitempty"`
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format("2006-01-02")
	return &formatted
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (s *Server) studyIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid study ID")
		return 0, false
	}
	return id, true
}

func actorFromRequest(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-Id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Handlers

func (s *Server) handleListStudies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	search := q.Get("search")
	limit := 50
	offset := 0
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := q.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	studies, total, err := s.db.ListStudies(ctx, search, limit, offset)
	if err != nil {
		config.LogError(s.log, "web", "handleListStudies", "list studies", nil, err)
		writeError(w, http.StatusInternalServerError, "Failed to list studies")
		return
	}

	entries := make([]StudyListEntry, 0, len(studies))
	for _, study := range studies {
		entries = append(entries, StudyListEntry{
			ID:            study.ID,
			CPMSID:        study.CPMSID,
			ShortTitle:    study.ShortTitle,
			Status:        study.Status,
			DueAssessment: study.DueAssessment,
		})
	}

	writeJSON(w, http.StatusOK, StudyListResponse{
		Studies: entries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	studyID, ok := s.studyIDFromPath(w, r)
	if !ok {
		return
	}

	view, err := s.reconciler.Read(ctx, studyID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Study not found")
			return
		}
		config.LogError(s.log, "web", "handleGetStudy", "read study", logrus.Fields{"studyId": studyID}, err)
		writeError(w, http.StatusInternalServerError, "Failed to load study")
		return
	}

	writeJSON(w, http.StatusOK, studyViewResponse(view))
}

func (s *Server) handleSubmitEdit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	studyID, ok := s.studyIDFromPath(w, r)
	if !ok {
		return
	}
	actorID, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	var payload EditPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	req := reconcile.EditRequest{
		Status:              payload.Status,
		UKRecruitmentTarget: payload.UKRecruitmentTarget,
		Comment:             payload.Comment,
		ActorID:             actorID,
	}
	var err error
	parse := func(value *string) *time.Time {
		if err != nil {
			return nil
		}
		var parsed *time.Time
		parsed, err = parseDate(value)
		return parsed
	}
	req.PlannedOpeningDate = parse(payload.PlannedOpeningDate)
	req.ActualOpeningDate = parse(payload.ActualOpeningDate)
	req.PlannedClosureDate = parse(payload.PlannedClosureDate)
	req.ActualClosureDate = parse(payload.ActualClosureDate)
	req.EstimatedReopeningDate = parse(payload.EstimatedReopeningDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date: "+err.Error())
		return
	}

	outcome, err := s.reconciler.ApplyEdit(ctx, studyID, req)
	if err != nil {
		var transitionErr *status.TransitionError
		switch {
		case errors.Is(err, database.ErrNotFound):
			writeError(w, http.StatusNotFound, "Study not found")
		case errors.As(err, &transitionErr):
			writeError(w, http.StatusBadRequest, transitionErr.Error())
		case errors.Is(err, cpms.ErrStaleToken):
			writeError(w, http.StatusConflict, "The study was changed in CPMS since it was loaded; reload and try again")
		default:
			config.LogError(s.log, "web", "handleSubmitEdit", "apply edit", logrus.Fields{"studyId": studyID}, err)
			writeError(w, http.StatusBadGateway, "The change could not be submitted to CPMS")
		}
		return
	}

	writeJSON(w, http.StatusOK, EditResponse{Applied: outcome.Applied, Warning: outcome.Warning})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	studyID, ok := s.studyIDFromPath(w, r)
	if !ok {
		return
	}

	view, err := s.reconciler.Read(ctx, studyID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Study not found")
			return
		}
		config.LogError(s.log, "web", "handleGetHistory", "read study", logrus.Fields{"studyId": studyID}, err)
		writeError(w, http.StatusInternalServerError, "Failed to load study")
		return
	}

	merged, err := s.history.Assemble(ctx, view.Study, view.ChangeLog, view.ExternalUnavailable)
	if err != nil {
		config.LogError(s.log, "web", "handleGetHistory", "assemble history", logrus.Fields{"studyId": studyID}, err)
		writeError(w, http.StatusInternalServerError, "Failed to assemble history")
		return
	}

	writeJSON(w, http.StatusOK, merged)
}

func studyViewResponse(view *reconcile.StudyView) StudyResponse {
	study := view.Study
	categories := make([]CategoryResponse, 0, len(view.Categories))
	for _, category := range view.Categories {
		categories = append(categories, CategoryResponse{
			IndicatorType:  category.IndicatorType,
			IndicatorValue: category.IndicatorValue,
			SampleSize:     category.SampleSize,
			ExpectedReopen: formatDate(category.ExpectedReopeningDate),
		})
	}
	return StudyResponse{
		ID:                     study.ID,
		CPMSID:                 study.CPMSID,
		ShortTitle:             study.ShortTitle,
		Status:                 study.Status,
		ExternalStatus:         study.ExternalStatus,
		PlannedOpeningDate:     formatDate(study.PlannedOpeningDate),
		ActualOpeningDate:      formatDate(study.ActualOpeningDate),
		PlannedClosureDate:     formatDate(study.PlannedClosureDate),
		ActualClosureDate:      formatDate(study.ActualClosureDate),
		EstimatedReopeningDate: formatDate(study.EstimatedReopeningDate),
		UKRecruitmentTarget:    study.UKRecruitmentTarget,
		TotalRecruitmentToDate: study.TotalRecruitmentToDate,
		ManagingAdministration: study.ManagingAdministration,
		DueAssessment:          study.DueAssessment,
		Categories:             categories,
		ExternalUnavailable:    view.ExternalUnavailable,
	}
}
