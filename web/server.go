// Package web exposes the study view, edit and history operations over
// HTTP. Session resolution happens upstream; handlers trust the forwarded
// user id header.
package web

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"sponsorengage/studysync/database"
	"sponsorengage/studysync/history"
	"sponsorengage/studysync/reconcile"
)

// Server handles HTTP requests for the study API.
type Server struct {
	db         *database.Database
	reconciler *reconcile.Service
	history    *history.Service
	mux        *http.ServeMux
	addr       string
	log        *logrus.Logger
}

// NewServer creates a new web server instance.
func NewServer(db *database.Database, reconciler *reconcile.Service, historySvc *history.Service, addr string, log *logrus.Logger) *Server {
	s := &Server{
		db:         db,
		reconciler: reconciler,
		history:    historySvc,
		mux:        http.NewServeMux(),
		addr:       addr,
		log:        log,
	}
	s.registerRoutes()
	return s
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/studies", s.handleListStudies)
	s.mux.HandleFunc("GET /api/studies/{id}", s.handleGetStudy)
	s.mux.HandleFunc("POST /api/studies/{id}/edits", s.handleSubmitEdit)
	s.mux.HandleFunc("GET /api/studies/{id}/history", s.handleGetHistory)
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.log.Infof("starting web server on %s", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}
