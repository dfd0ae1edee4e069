// Package collector is the HTTP front door of the service: crash clients
// upload minidumps and symbol files, operators query analysis results.
package collector

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crash-analysis/internal/repository"
	"github.com/crash-analysis/internal/storage"
	"github.com/crash-analysis/pkg/utils"
)

// Minidump upload field names used by Breakpad and Crashpad clients.
const (
	FieldMinidump = "upload_file_minidump"
	FieldExtra    = "extra"
	FieldSymbol   = "file"
)

// Config holds collector settings.
type Config struct {
	Listen        string
	MaxUploadSize int64
	// SymbolsDir receives uploaded symbol files; uploads are refused when
	// it is empty.
	SymbolsDir string
}

// HealthFunc reports whether the service behind the collector is usable.
type HealthFunc func(ctx context.Context) error

// Server serves the collector API.
type Server struct {
	cfg     Config
	storage storage.Storage
	repos   *repository.Repositories
	health  HealthFunc
	logger  utils.Logger
	engine  *gin.Engine
}

// New builds the HTTP routes. health may be nil.
func New(cfg Config, store storage.Storage, repos *repository.Repositories, health HealthFunc, logger utils.Logger) *Server {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 64 << 20
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{cfg: cfg, storage: store, repos: repos, health: health, logger: logger}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.POST("/submit", s.submit)
	s.engine.POST("/symbols", s.uploadSymbols)
	s.engine.GET("/healthz", s.healthz)

	api := s.engine.Group("/api/v1")
	api.GET("/crashes/:uuid", s.getCrash)
	api.GET("/crashes/:uuid/report", s.getReport)
	api.GET("/fingerprints/:fingerprint", s.findByFingerprint)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on cfg.Listen until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("Collector listening on %s", s.cfg.Listen)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(map[string]interface{}{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"latency": time.Since(start).String(),
		}).Debug("HTTP request")
	}
}

// reply is the body of every non-document response.
type reply struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func fail(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, reply{Status: "error", Error: msg})
}
