// @title           Praxis API
// @version         0.1
// @description     Action mediation API for AI coding agents.
// @host            localhost:8080
// @BasePath        /

package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/praxis-agent/praxis/pkg/api/middleware"
	"github.com/praxis-agent/praxis/pkg/api/service"
)

// Config defines the HTTP server settings.
type Config struct {
	Enable  bool   `yaml:"enable" envconfig:"HTTP_ENABLE"`
	Addr    string `yaml:"addr" envconfig:"HTTP_ADDR"`
	APIKey  string `yaml:"api_key" envconfig:"HTTP_API_KEY"`
	DevMode bool   // Enables Swagger UI
}

// Server hosts the Gin engine and manages API resources.
type Server struct {
	engine *gin.Engine
	config Config
	svc    *service.Mediation
	log    *slog.Logger
}

// NewServer constructs the HTTP API server.
func NewServer(cfg Config, svc *service.Mediation, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Logger(log))

	srv := &Server{
		engine: engine,
		config: cfg,
		svc:    svc,
		log:    log,
	}

	srv.setupRoutes()

	return srv
}

// Engine returns the underlying Gin engine (for http.Server).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Addr returns the configured address.
func (s *Server) Addr() string {
	return s.config.Addr
}

// Run starts the HTTP server on the configured address.
func (s *Server) Run() error {
	s.log.Info("http api listening", "addr", s.config.Addr)
	return http.ListenAndServe(s.config.Addr, s.engine)
}
