package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/openshelf/coverage/internal/coverage"
)

// Server exposes the status of registered coverage providers over
// HTTP. It reports configuration and the last run's Timestamp; it does
// not trigger runs.
type Server struct {
	logger    *zap.Logger
	providers map[string]*coverage.Provider
	mu        sync.RWMutex
}

type ProviderInfo struct {
	Service    string `json:"service"`
	DataSource string `json:"data_source"`
	Operation  string `json:"operation,omitempty"`
	Collection string `json:"collection,omitempty"`

	LastRun *coverage.Timestamp `json:"last_run,omitempty"`
}

func New(logger *zap.Logger) *Server {
	return &Server{
		logger:    logger.Named("server"),
		providers: make(map[string]*coverage.Provider),
	}
}

func (s *Server) RegisterProvider(p *coverage.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.providers[p.ServiceName()] = p
	s.logger.Info("provider registered",
		zap.String("service", p.ServiceName()),
		zap.String("data_source", p.Config().DataSource))
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.health)

	r.Route("/api/v1/providers", func(r chi.Router) {
		r.Get("/", s.listProviders)
		r.Get("/{service}", s.getProvider)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) info(r *http.Request, p *coverage.Provider) ProviderInfo {
	cfg := p.Config()
	info := ProviderInfo{
		Service:    p.ServiceName(),
		DataSource: cfg.DataSource,
		Operation:  cfg.Operation,
		Collection: cfg.Collection,
	}

	ts, err := p.Timestamp(r.Context())
	if err != nil {
		s.logger.Error("looking up timestamp",
			zap.String("service", p.ServiceName()), zap.Error(err))
		return info
	}
	info.LastRun = ts
	return info
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	providers := make([]ProviderInfo, 0, len(s.providers))
	for _, p := range s.providers {
		providers = append(providers, s.info(r, p))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"providers": providers,
		"count":     len(providers),
	})
}

func (s *Server) getProvider(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	s.mu.RLock()
	p, exists := s.providers[service]
	s.mu.RUnlock()

	if !exists {
		http.Error(w, "provider not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.info(r, p))
}
