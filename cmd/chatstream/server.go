package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"chatstream/internal/database"
	"chatstream/internal/middleware"
	"chatstream/internal/models"
	"chatstream/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg     *models.Config
	router  *mux.Router
	logger  *logrus.Logger
	db      *database.Database
	gateway *service.Gateway
	bus     *service.FanoutBus
	server  *http.Server
}

func NewServer(cfg *models.Config, db *database.Database, gateway *service.Gateway, bus *service.FanoutBus, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		logger:  logger,
		db:      db,
		gateway: gateway,
		bus:     bus,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	webhook := s.router.PathPrefix("/api/webhook").Subrouter()
	webhook.Use(middleware.WebhookObservability(s.logger))
	webhook.HandleFunc("", s.handleWebhook()).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/conversations", s.handleConversations()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{conversationId}", s.handleMessages()).Methods(http.MethodGet)
	api.HandleFunc("/messages/send", s.handleSend()).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats()).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.handleWebSocket()).Methods(http.MethodGet)
}

// Start runs the HTTP server until it fails or Shutdown is called. ctx
// becomes the base context of every request, which carries the verbose
// logging flag into the handlers.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.bus.Close()
	return s.server.Shutdown(ctx)
}
