package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/tunevault/tunevault/internal/config"
	"github.com/tunevault/tunevault/internal/fingerprint"
	"github.com/tunevault/tunevault/internal/jobs"
	"github.com/tunevault/tunevault/internal/library"
	"github.com/tunevault/tunevault/internal/store"
)

type Server struct {
	config     *config.Config
	dispatcher *jobs.Dispatcher
	store      *store.Store
	lib        library.Library
	fp         *fingerprint.Fingerprinter
	wsHub      *WSHub
	router     *http.ServeMux
	httpServer *http.Server
}

func NewServer(cfg *config.Config, dispatcher *jobs.Dispatcher, st *store.Store,
	lib library.Library, fp *fingerprint.Fingerprinter) *Server {
	s := &Server{
		config:     cfg,
		dispatcher: dispatcher,
		store:      st,
		lib:        lib,
		fp:         fp,
		wsHub:      NewWSHub(),
		router:     http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

func (s *Server) setupRoutes() {
	// Static files
	fs := http.FileServer(http.Dir("web"))
	s.router.Handle("/", fs)

	s.router.HandleFunc("GET /health", s.handleHealth)

	// WebSocket
	s.router.HandleFunc("GET /api/v1/ws", s.handleWebSocket)

	// Inbox folders and their sessions
	s.router.HandleFunc("GET /api/v1/inboxes", s.handleListInboxes)
	s.router.HandleFunc("GET /api/v1/sessions/{hash}", s.handleGetSession)
	s.router.HandleFunc("GET /api/v1/sessions", s.handleGetSessionByPath)

	// Job enqueueing
	s.router.HandleFunc("POST /api/v1/jobs/preview", s.handleEnqueuePreview)
	s.router.HandleFunc("POST /api/v1/jobs/add-candidates", s.handleEnqueueAddCandidates)
	s.router.HandleFunc("POST /api/v1/jobs/import", s.handleEnqueueImport)
	s.router.HandleFunc("POST /api/v1/jobs/import-auto", s.handleEnqueueImportAuto)
	s.router.HandleFunc("POST /api/v1/jobs/import-bootleg", s.handleEnqueueImportBootleg)
	s.router.HandleFunc("POST /api/v1/jobs/undo", s.handleEnqueueUndo)
	s.router.HandleFunc("GET /api/v1/jobs/{queue}/{id}/result", s.handleJobResult)
	s.router.HandleFunc("DELETE /api/v1/jobs/{queue}/{id}", s.handleRevokeJob)

	// Library
	s.router.HandleFunc("GET /api/v1/albums", s.handleListAlbums)
	s.router.HandleFunc("GET /api/v1/albums/{id}/items", s.handleListAlbumItems)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("API: listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
