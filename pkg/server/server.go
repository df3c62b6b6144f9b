// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server is the HTTP surface of the coaching engine: the
// session operations under /api/v1, the read-only admin listings, and
// the health endpoint. Transport concerns live here; all semantics
// live in the orchestrator and the stores behind it.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mottych/PurposePath-AI-sub003/internal/log"
	"github.com/mottych/PurposePath-AI-sub003/pkg/llm"
	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
	"github.com/mottych/PurposePath-AI-sub003/pkg/session"
	"github.com/mottych/PurposePath-AI-sub003/pkg/topics"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Config holds the HTTP server settings.
type Config struct {
	// Host is the listen address (default 0.0.0.0).
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the listen port (default 8080).
	Port int `mapstructure:"port" yaml:"port"`

	// ReadTimeoutSeconds bounds reading the request (default 30).
	ReadTimeoutSeconds int `mapstructure:"read_timeout_seconds" yaml:"read_timeout_seconds"`

	// WriteTimeoutSeconds bounds writing the response. Session turns
	// include a provider round trip, so the default is generous (120).
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds" yaml:"write_timeout_seconds"`

	// RequestTimeoutSeconds is the per-request deadline attached to
	// the context; in-flight provider calls abort when it fires
	// (default 90).
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Host:                  "0.0.0.0",
		Port:                  8080,
		ReadTimeoutSeconds:    30,
		WriteTimeoutSeconds:   120,
		RequestTimeoutSeconds: 90,
	}
}

// SessionService is the slice of the orchestrator the session handlers
// need. *session.Orchestrator satisfies it; tests substitute a stub.
type SessionService interface {
	Initiate(ctx context.Context, id types.Identity, topicID string, params map[string]interface{}) (*session.TurnResult, error)
	AddMessage(ctx context.Context, id types.Identity, sessionID, text string) (*session.TurnResult, error)
	Complete(ctx context.Context, id types.Identity, sessionID string) (*session.CompleteResult, error)
	Cancel(ctx context.Context, id types.Identity, sessionID string) (*session.Snapshot, error)
	Get(ctx context.Context, id types.Identity, sessionID string) (*session.Snapshot, error)
}

// ConfigService is the slice of the runtime-configuration service the
// admin handlers need.
type ConfigService interface {
	Get(ctx context.Context, tenantID, topicID string) (*runtimeconfig.Record, error)
	Put(ctx context.Context, record *runtimeconfig.Record) (*runtimeconfig.Record, error)
	List(ctx context.Context, tenantID string, filter runtimeconfig.Filter) ([]*runtimeconfig.Record, error)
}

// Pinger reports storage backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Sessions SessionService
	Configs  ConfigService
	Topics   *topics.Registry
	Models   *llm.Registry

	// Lister backs the admin session listing. Optional; the endpoint
	// returns an empty list when absent.
	Lister session.Lister

	// Health is consulted by the health endpoint. Optional.
	Health Pinger
}

// Server serves the engine's HTTP API.
type Server struct {
	cfg    Config
	deps   Deps
	router *gin.Engine
	http   *http.Server
}

// New builds the router and the server around it. Gin runs in release
// mode; the access log goes through the engine's structured logger.
func New(cfg Config, deps Deps) *Server {
	defaults := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = defaults.Host
	}
	if cfg.Port == 0 {
		cfg.Port = defaults.Port
	}
	if cfg.ReadTimeoutSeconds <= 0 {
		cfg.ReadTimeoutSeconds = defaults.ReadTimeoutSeconds
	}
	if cfg.WriteTimeoutSeconds <= 0 {
		cfg.WriteTimeoutSeconds = defaults.WriteTimeoutSeconds
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = defaults.RequestTimeoutSeconds
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(correlationMiddleware())
	router.Use(accessLogMiddleware())

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: router,
	}
	s.registerRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api/v1")
	api.Use(identityMiddleware())
	api.Use(deadlineMiddleware(time.Duration(s.cfg.RequestTimeoutSeconds) * time.Second))

	api.POST("/sessions", s.handleInitiate)
	api.GET("/sessions/:id", s.handleGetSession)
	api.POST("/sessions/:id/messages", s.handleAddMessage)
	api.POST("/sessions/:id/complete", s.handleComplete)
	api.DELETE("/sessions/:id", s.handleCancel)

	admin := api.Group("/admin")
	admin.GET("/topics", s.handleListTopics)
	admin.GET("/models", s.handleListModels)
	admin.GET("/configs", s.handleListConfigs)
	admin.GET("/configs/:topic_id", s.handleGetConfig)
	admin.PUT("/configs/:topic_id", s.handlePutConfig)
	admin.GET("/sessions", s.handleListSessions)
}

// Start serves until the listener fails or Shutdown is called.
// http.ErrServerClosed is swallowed as the normal shutdown outcome.
func (s *Server) Start() error {
	log.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
