package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"appliance-license/internal/auth"
	"appliance-license/internal/issuer"
	"appliance-license/internal/logging"
)

// HealthCheck reports whether one backing dependency is reachable
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	service     *issuer.Service
	jwtManager  *auth.JWTManager
	config      ServerConfig
	checks      map[string]HealthCheck
	rateLimiter *RateLimiter
	startedAt   time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// DecodeRateLimit caps decode requests per client IP per minute. Zero disables it.
	DecodeRateLimit int
}

// NewServer creates a new API server. jwtManager may be nil, which leaves
// the operator routes unauthenticated.
func NewServer(config ServerConfig, service *issuer.Service, jwtManager *auth.JWTManager, checks map[string]HealthCheck) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(logging.GinMiddleware())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 0 || (len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", logging.TraceIDHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", logging.TraceIDHeader}
	router.Use(cors.New(corsConfig))

	if checks == nil {
		checks = map[string]HealthCheck{}
	}

	server := &Server{
		router:     router,
		service:    service,
		jwtManager: jwtManager,
		config:     config,
		checks:     checks,
		startedAt:  time.Now(),
	}
	if config.DecodeRateLimit > 0 {
		server.rateLimiter = NewRateLimiter(config.DecodeRateLimit, time.Minute)
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")

	// Public routes
	api.POST("/licenses/decode", s.rateLimitMiddleware(), s.handleDecodeLicense)
	api.GET("/policy/proactive-support/:type", s.handleProactiveSupport)

	// Operator routes
	operator := api.Group("")
	if s.jwtManager != nil {
		operator.Use(auth.Middleware(s.jwtManager))
	}
	operator.POST("/licenses/encode", s.handleEncodeLicense)
	operator.GET("/licenses", s.handleListLicenses)
	operator.GET("/licenses/:serial", s.handleGetLicense)

	issue := []gin.HandlerFunc{s.handleIssueLicense}
	if s.jwtManager != nil {
		issue = append([]gin.HandlerFunc{auth.RequireAdmin()}, issue...)
	}
	operator.POST("/licenses", issue...)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	readTimeout, writeTimeout := s.config.ReadTimeout, s.config.WriteTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout == 0 {
		writeTimeout = 15 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	logging.WithComponent("api").Info("Starting HTTP server", "addr", addr, "auth", s.jwtManager != nil)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.WithComponent("api").Info("Shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth runs every registered dependency check
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = "unhealthy"
			healthy = false
			logging.FromContext(c.Request.Context()).WithError(err).Warn("Health check failed", "dependency", name)
			continue
		}
		deps[name] = "healthy"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": deps,
		"uptime":       time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, gin.H{
		"error":   code,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"success": true,
		"data":    data,
	})
}
