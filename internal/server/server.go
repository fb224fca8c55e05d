// Package server is the local development backend. It serves both remote
// services the client depends on, the identity provider under /auth/v1 and
// the application backend under /api, from a single SQLite database.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gigwork-dev/gigwork/internal/auth"
	"github.com/gigwork-dev/gigwork/internal/config"
	"github.com/gigwork-dev/gigwork/internal/models"
)

const (
	otpTTL           = 5 * time.Minute
	refreshTokenTTL  = 30 * 24 * time.Hour
	serverSessionTTL = 30 * 24 * time.Hour
)

var otpPattern = regexp.MustCompile(`^[0-9]{6}$`)

// Server represents the HTTP server
type Server struct {
	router     *gin.Engine
	db         *gorm.DB
	config     *config.Config
	logger     zerolog.Logger
	validator  *validator.Validate
	tokens     *auth.TokenIssuer
	devOTPCode string
	version    string
	now        func() time.Time
}

// New creates a new server instance
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	db, err := initDatabase(cfg.Backend.DatabaseURL, zlog)
	if err != nil {
		return nil, err
	}

	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	secret := cfg.Backend.JWTSecret
	if secret == "" {
		// Tokens issued with a generated secret don't survive a restart
		secret, err = generateSecret()
		if err != nil {
			return nil, err
		}
		zlog.Warn().Msg("No JWT secret configured, generated one for this run")
	}
	tokens, err := auth.NewTokenIssuer(secret, cfg.Backend.AccessTokenTTL)
	if err != nil {
		return nil, err
	}

	validate := validator.New()
	if err := validate.RegisterValidation("otp", func(fl validator.FieldLevel) bool {
		return otpPattern.MatchString(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("failed to register otp validation: %w", err)
	}

	server := &Server{
		db:         db,
		config:     cfg,
		logger:     zlog,
		validator:  validate,
		tokens:     tokens,
		devOTPCode: cfg.Backend.DevOTPCode,
		version:    version,
		now:        func() time.Time { return time.Now().UTC() },
	}

	server.setupRouter()
	return server, nil
}

func generateSecret() (string, error) {
	// 64 hex characters = 32 bytes of randomness
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// gormWriter routes gorm's log lines into zerolog
type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warn().Str("component", "gorm").Msgf(format, args...)
}

// initDatabase opens the SQLite database at path in WAL mode
func initDatabase(path string, zlog zerolog.Logger) (*gorm.DB, error) {
	const (
		maxOpenConns    = 4
		maxIdleConns    = 2
		connMaxLifetime = 5 * time.Minute
		busyTimeoutMs   = 5000
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.New(gormWriter{log: zlog}, logger.Config{
			LogLevel:                  logger.Error,
			IgnoreRecordNotFoundError: true,
			SlowThreshold:             200 * time.Millisecond,
			Colorful:                  false,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// journal_mode first; the rest assume WAL
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMs),
		"PRAGMA foreign_keys=1",
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			zlog.Warn().Str("pragma", pragma).Err(err).Msg("Failed to apply pragma")
		}
	}

	return db, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()

	s.router.Use(gin.Recovery(), s.loggingMiddleware())

	// CORS for the web build of the app running on the Expo dev server
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:8081", "http://localhost:19006"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.router.GET("/health", s.healthCheck)

	// Identity provider
	identity := s.router.Group("/auth/v1")
	{
		identity.POST("/otp", s.requestOTP)
		identity.POST("/verify", s.verifyOTP)
		identity.POST("/token", s.refreshToken)
		identity.POST("/logout", JWTAuthMiddleware(s.db, s.tokens, s.logger), s.logout)
	}

	// Application backend
	api := s.router.Group("/api")
	{
		api.POST("/auth/token", s.issueBearerToken)

		api.POST("/sessions", s.createServerSession)
		api.GET("/sessions/:id", s.getServerSession)
		api.DELETE("/sessions/:id", s.deleteServerSession)

		api.GET("/profile/me", JWTAuthMiddleware(s.db, s.tokens, s.logger), s.getProfile)
	}
}

// loggingMiddleware logs one line per request; 401s log at debug
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := s.logger.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = s.logger.Error()
		case status == http.StatusUnauthorized:
			event = s.logger.Debug()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": s.now().UTC(),
		"service":   "gigwork-devbackend",
		"version":   s.version,
	})
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close closes the database connection
func (s *Server) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Start serves HTTP until SIGINT or SIGTERM, then shuts down gracefully
func (s *Server) Start() error {
	addr := s.config.Backend.ListenAddress

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("http server error: %w", err)
	case <-sigChan:
		s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	// Close database connection to flush WAL writes
	if err := s.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing database")
	}

	s.logger.Info().Msg("Server shutdown complete")
	return nil
}
