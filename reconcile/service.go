// Package reconcile orchestrates one study's view/update cycle against
// CPMS: fetch and map the authoritative record, apply local edits through
// the Direct/Proposed routing decision, and record every accepted edit in
// the update ledger.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"sponsorengage/studysync/config"
	"sponsorengage/studysync/cpms"
	"sponsorengage/studysync/database"
	"sponsorengage/studysync/ledger"
	"sponsorengage/studysync/status"
)

// dueAssessmentAge is how long a study may recruit before a progress
// assessment falls due.
const dueAssessmentAge = 90 * 24 * time.Hour

type Service struct {
	store             Store
	client            ExternalClient
	ledger            Ledger
	log               *logrus.Logger
	changeLogSince    time.Time
	changeLogMaxItems int
	now               func() time.Time
}

func NewService(store Store, client ExternalClient, ledgerSvc Ledger, log *logrus.Logger, changeLogSince time.Time, changeLogMaxItems int) *Service {
	return &Service{
		store:             store,
		client:            client,
		ledger:            ledgerSvc,
		log:               log,
		changeLogSince:    changeLogSince,
		changeLogMaxItems: changeLogMaxItems,
		now:               time.Now,
	}
}

// Read produces the best-available view of a study. A missing local study
// is the only fatal case. The external fetch, the refresh of
// externally-owned fields, the category reconciliation and the
// due-assessment recompute are each best-effort: a failure is logged,
// degrades that one step and never fails the read.
func (s *Service) Read(ctx context.Context, studyID int64) (*StudyView, error) {
	study, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return nil, fmt.Errorf("load study %d: %w", studyID, err)
	}

	view := &StudyView{Study: *study}

	envelope, err := s.client.FetchStudy(ctx, study.CPMSID, s.changeLogSince, s.changeLogMaxItems)
	if err != nil {
		s.log.WithFields(logrus.Fields{"studyId": studyID, "cpmsId": study.CPMSID}).
			Warnf("cpms fetch failed, serving last-known state: %v", err)
		view.ExternalUnavailable = true
		view.Categories = s.loadCategories(ctx, studyID)
		return view, nil
	}
	view.ChangeLog = envelope.ChangeLog

	refreshed := applyExternalRecord(*study, envelope.Record)
	if err := s.store.UpdateExternalFields(ctx, studyID, envelope.Record, refreshed.Status); err != nil {
		s.log.WithField("studyId", studyID).Warnf("persisting refreshed study failed, serving pre-fetch state: %v", err)
	} else {
		view.Study = refreshed
	}

	if err := s.store.ReconcileCategories(ctx, studyID, envelope.Record.EvaluationCategories); err != nil {
		s.log.WithField("studyId", studyID).Warnf("category reconciliation failed, keeping persisted categories: %v", err)
	}
	view.Categories = s.loadCategories(ctx, studyID)

	due := s.computeDueAssessment(view.Study)
	if err := s.store.SetDueAssessment(ctx, studyID, due); err != nil {
		s.log.WithField("studyId", studyID).Warnf("persisting due-assessment flag failed, omitting flag: %v", err)
		view.Study.DueAssessment = nil
	} else {
		view.Study.DueAssessment = &due
	}

	return view, nil
}

// ApplyEdit validates and applies one candidate change. CPMS decides the
// routing: a Direct change is written through immediately under the
// optimistic ordering-token check, a Proposed change is queued for review.
// Either way exactly one ledger pair is recorded. Failures before or
// during the CPMS calls abort the edit with nothing recorded; a local
// failure after a successful Direct apply is reported as a warning because
// the CPMS write cannot be un-applied here.
func (s *Service) ApplyEdit(ctx context.Context, studyID int64, req EditRequest) (*EditOutcome, error) {
	study, err := s.store.GetStudy(ctx, studyID)
	if err != nil {
		return nil, fmt.Errorf("load study %d: %w", studyID, err)
	}

	if err := status.ValidateTransition(study.Status, req.Status); err != nil {
		return nil, err
	}

	candidate := cpms.UpdateCandidate{
		Status:                 status.ToExternal(req.Status, study.ExternalStatus),
		PlannedOpeningDate:     req.PlannedOpeningDate,
		ActualOpeningDate:      req.ActualOpeningDate,
		PlannedClosureDate:     req.PlannedClosureDate,
		ActualClosureDate:      req.ActualClosureDate,
		EstimatedReopeningDate: req.EstimatedReopeningDate,
		UKRecruitmentTarget:    req.UKRecruitmentTarget,
		Note:                   req.Comment,
	}

	route, err := s.client.ValidateUpdate(ctx, study.CPMSID, candidate)
	if err != nil {
		return nil, fmt.Errorf("cpms update validation for study %d: %w", studyID, err)
	}

	txn := ledger.Transaction{
		StudyID: studyID,
		ActorID: req.ActorID,
		Before:  valuesFromStudy(*study),
		After:   valuesFromCandidate(candidate),
	}

	if route == cpms.RouteProposed {
		txn.Type = database.TypeProposed
		if _, err := s.ledger.Record(ctx, txn); err != nil {
			return nil, fmt.Errorf("record proposed edit for study %d: %w", studyID, err)
		}
		return &EditOutcome{Applied: false}, nil
	}

	result, err := s.client.ApplyUpdate(ctx, study.CPMSID, candidate, study.OrderingToken)
	if err != nil {
		return nil, fmt.Errorf("cpms apply for study %d: %w", studyID, err)
	}

	outcome := &EditOutcome{Applied: true}

	refreshed := applyExternalRecord(*study, result.Record)
	if err := s.store.UpdateExternalFields(ctx, studyID, result.Record, refreshed.Status); err != nil {
		s.log.WithField("studyId", studyID).Warnf("persisting applied update failed: %v", err)
		outcome.Warning = "the change was applied in CPMS but the local study record could not be refreshed"
	}

	appliedStatus := result.Record.Status
	txn.Type = database.TypeDirect
	txn.After.Status = &appliedStatus
	txn.BeforeToken = study.OrderingToken
	txn.AfterToken = result.Token
	if _, err := s.ledger.Record(ctx, txn); err != nil {
		// The CPMS write already happened and cannot be rolled back from
		// here, so a missing ledger pair is surfaced as a warning rather
		// than a hard failure.
		config.LogError(s.log, "reconcile", "ApplyEdit", "ledger write after direct apply", logrus.Fields{"studyId": studyID}, err)
		outcome.Warning = "the change was applied in CPMS but could not be recorded in the local update history"
	}

	return outcome, nil
}

func (s *Service) loadCategories(ctx context.Context, studyID int64) []database.EvaluationCategory {
	categories, err := s.store.ListCategories(ctx, studyID)
	if err != nil {
		s.log.WithField("studyId", studyID).Warnf("loading categories failed: %v", err)
		return nil
	}
	return categories
}

// computeDueAssessment derives the due-assessment flag from the
// externally-owned dates: an assessment falls due once a study has been
// open for three months, or when its planned closure date has passed while
// it is still open.
func (s *Service) computeDueAssessment(study database.Study) bool {
	switch study.Status {
	case status.Closed, status.Withdrawn:
		return false
	}
	now := s.now()
	if study.ActualOpeningDate != nil && now.Sub(*study.ActualOpeningDate) >= dueAssessmentAge {
		return true
	}
	if study.PlannedClosureDate != nil && study.PlannedClosureDate.Before(now) {
		return true
	}
	return false
}

// applyExternalRecord maps a fetched CPMS record onto the externally-owned
// fields of a study. Locally-owned fields carry over untouched.
func applyExternalRecord(study database.Study, record cpms.StudyRecord) database.Study {
	study.ShortTitle = record.ShortName
	study.ExternalStatus = record.Status
	study.Status = status.ToInternal(record.Status)
	study.PlannedOpeningDate = record.PlannedOpeningDate
	study.ActualOpeningDate = record.ActualOpeningDate
	study.PlannedClosureDate = record.PlannedClosureDate
	study.ActualClosureDate = record.ActualClosureDate
	study.EstimatedReopeningDate = record.EstimatedReopeningDate
	study.UKRecruitmentTarget = record.UKRecruitmentTarget
	study.TotalRecruitmentToDate = record.TotalRecruitmentToDate
	study.ManagingAdministration = record.ManagingAdministration
	study.OrderingToken = record.ChangeToken
	return study
}

func valuesFromStudy(study database.Study) ledger.Values {
	externalStatus := study.ExternalStatus
	return ledger.Values{
		Status:                 &externalStatus,
		PlannedOpeningDate:     study.PlannedOpeningDate,
		ActualOpeningDate:      study.ActualOpeningDate,
		PlannedClosureDate:     study.PlannedClosureDate,
		ActualClosureDate:      study.ActualClosureDate,
		EstimatedReopeningDate: study.EstimatedReopeningDate,
		UKRecruitmentTarget:    study.UKRecruitmentTarget,
	}
}

func valuesFromCandidate(candidate cpms.UpdateCandidate) ledger.Values {
	values := ledger.Values{
		Status:                 &candidate.Status,
		PlannedOpeningDate:     candidate.PlannedOpeningDate,
		ActualOpeningDate:      candidate.ActualOpeningDate,
		PlannedClosureDate:     candidate.PlannedClosureDate,
		ActualClosureDate:      candidate.ActualClosureDate,
		EstimatedReopeningDate: candidate.EstimatedReopeningDate,
		UKRecruitmentTarget:    candidate.UKRecruitmentTarget,
	}
	if candidate.Note != "" {
		note := candidate.Note
		values.Comment = &note
	}
	return values
}
