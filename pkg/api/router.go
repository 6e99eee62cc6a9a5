package api

import (
	"github.com/praxis-agent/praxis/pkg/api/handler"
	"github.com/praxis-agent/praxis/pkg/api/middleware"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health (no auth required)
	s.engine.GET("/health", handler.Health)

	// API v1 group
	v1 := s.engine.Group("/api/v1")
	v1.Use(middleware.Auth(s.config.APIKey))

	// Permission handlers
	permissionHandler := handler.NewPermissionHandler(s.svc)
	v1.POST("/permission/check", permissionHandler.Check)
	v1.GET("/permission/rules", permissionHandler.Rules)
	v1.POST("/permission/rules", permissionHandler.AddRule)
	v1.DELETE("/permission/rules/:index", permissionHandler.RemoveRule)
	v1.PUT("/permission/defaults/:tool", permissionHandler.SetDefault)

	// Patch handlers
	patchHandler := handler.NewPatchHandler(s.svc)
	v1.POST("/patch/dry-run", patchHandler.DryRun)
	v1.POST("/patch/apply", patchHandler.Apply)
	v1.POST("/patch/revert", patchHandler.Revert)
	v1.POST("/patch/revert-last", patchHandler.RevertLast)
	v1.POST("/patch/diff", patchHandler.GenerateDiff)
	v1.GET("/journal", patchHandler.Journal)

	// Audit handler
	auditHandler := handler.NewAuditHandler(s.svc)
	v1.GET("/audit", auditHandler.List)

	// Tool server handlers
	serverHandler := handler.NewServerHandler(s.svc)
	v1.GET("/servers", serverHandler.List)
	v1.POST("/servers", serverHandler.Register)
	v1.DELETE("/servers/:id", serverHandler.Unregister)
	v1.GET("/servers/:id/tools", serverHandler.Tools)
	v1.POST("/tools/call", serverHandler.Call)

	// Confirmation channel
	confirmationHandler := handler.NewConfirmationHandler(s.svc)
	v1.GET("/confirmations", confirmationHandler.Stream)
	v1.POST("/confirmations/:id", confirmationHandler.Respond)

	// Swagger UI (only in DevMode)
	if s.config.DevMode {
		s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
		s.log.Info("swagger ui enabled", "path", "/swagger/index.html")
	}

	// K8s health probe
	s.engine.GET("/healthz", handler.Health)
}
