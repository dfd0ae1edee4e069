// Package service wires the database, object storage and scheduler into the
// long-running crash analysis service. The HTTP collector, the RabbitMQ
// intake and the fingerprint cache are optional.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/crash-analysis/internal/cache"
	"github.com/crash-analysis/internal/collector"
	"github.com/crash-analysis/internal/intake"
	"github.com/crash-analysis/internal/repository"
	"github.com/crash-analysis/internal/scheduler"
	"github.com/crash-analysis/internal/storage"
	"github.com/crash-analysis/pkg/config"
	"github.com/crash-analysis/pkg/utils"
)

// healthKey is probed in object storage by HealthCheck.
const healthKey = ".health"

// Service is the main application service.
type Service struct {
	config    *config.Config
	logger    utils.Logger
	gormDB    *gorm.DB
	db        *repository.Repositories
	storage   storage.Storage
	scheduler *scheduler.Scheduler
	cache     cache.Cache
	broker    *intake.Client
	collector *collector.Server

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   errgroup.Group
}

// Option customizes a Service.
type Option func(*Service)

// WithDB uses db instead of connecting with the database config.
func WithDB(db *gorm.DB) Option {
	return func(s *Service) { s.gormDB = db }
}

// WithStorage uses store instead of the storage config.
func WithStorage(store storage.Storage) Option {
	return func(s *Service) { s.storage = store }
}

// New creates a new Service instance.
func New(cfg *config.Config, logger utils.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("service config is required")
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}

	s := &Service{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initialize initializes all service components.
func (s *Service) Initialize(ctx context.Context) error {
	s.logger.Info("Initializing service components...")

	if err := s.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := s.initStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := s.initCache(); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	if err := s.initBroker(); err != nil {
		return fmt.Errorf("failed to initialize intake: %w", err)
	}
	s.initScheduler()
	s.initCollector()

	s.logger.Info("Service components initialized successfully")
	return nil
}

// initDatabase connects, migrates the schema and builds the repositories.
func (s *Service) initDatabase(ctx context.Context) error {
	if s.gormDB == nil {
		s.logger.Info("Connecting to database (%s)...", s.config.Database.Type)
		gormDB, err := repository.NewGormDB(&s.config.Database)
		if err != nil {
			return err
		}
		s.gormDB = gormDB
	}

	if err := repository.Migrate(ctx, s.gormDB); err != nil {
		return err
	}
	s.db = repository.NewRepositories(s.gormDB, s.config.Analysis.Version)
	s.logger.Info("Database connection established")
	return nil
}

// initStorage initializes the object storage.
func (s *Service) initStorage() error {
	if s.storage != nil {
		return nil
	}
	s.logger.Info("Initializing storage (%s)...", s.config.Storage.Type)

	store, err := storage.NewStorage(&s.config.Storage)
	if err != nil {
		return err
	}
	s.storage = store
	s.logger.Info("Storage initialized")
	return nil
}

func (s *Service) initCache() error {
	c, err := cache.New(&s.config.Cache)
	if err != nil {
		return err
	}
	s.cache = c
	if c != nil {
		s.logger.Info("Fingerprint cache initialized (%s)", s.config.Cache.Type)
	}
	return nil
}

func (s *Service) initBroker() error {
	if s.config.AMQP.URL == "" {
		return nil
	}
	client, err := intake.Dial(s.config.AMQP)
	if err != nil {
		return err
	}
	s.broker = client
	s.logger.Info("Consuming crash tasks from queue %s", s.config.AMQP.Queue)
	return nil
}

func (s *Service) initScheduler() {
	pcfg := &scheduler.ProcessorConfig{
		Config:  s.config,
		Storage: s.storage,
		Repos:   s.db,
		Cache:   s.cache,
		Logger:  s.logger,
	}
	if s.broker != nil {
		if pub := s.broker.Publisher(); pub != nil {
			pcfg.Notifier = pub
		}
	}
	processor := scheduler.NewDefaultTaskProcessor(pcfg)
	fetcher := scheduler.NewRepositoryTaskFetcher(s.db.Task)
	s.scheduler = scheduler.New(scheduler.FromConfig(&s.config.Scheduler), fetcher, processor, s.logger)
	s.logger.Info("Scheduler initialized")
}

func (s *Service) initCollector() {
	if !s.config.Collector.Enabled {
		return
	}
	s.collector = collector.New(collector.Config{
		Listen:        s.config.Collector.Listen,
		MaxUploadSize: s.config.Collector.MaxUploadSize,
		SymbolsDir:    s.config.Analysis.SymbolsDir,
	}, s.storage, s.db, s.HealthCheck, s.logger)
}

// Collector returns the HTTP collector, or nil when it is disabled.
func (s *Service) Collector() *collector.Server { return s.collector }

// Start starts the service.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler == nil {
		return fmt.Errorf("service is not initialized")
	}
	s.logger.Info("Starting service...")

	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	bg, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if s.broker != nil {
		deliveries, err := s.broker.Deliveries()
		if err != nil {
			cancel()
			s.scheduler.Stop()
			return fmt.Errorf("failed to consume queue: %w", err)
		}
		consumer := intake.NewConsumer(s.db.Task, s.logger)
		s.goBackground("intake", func() error { return consumer.Run(bg, deliveries) })
	}
	if s.collector != nil {
		s.goBackground("collector", func() error { return s.collector.ListenAndServe(bg) })
	}
	s.running = true
	s.logger.Info("Service started successfully")
	return nil
}

// Stop stops the service gracefully.
func (s *Service) Stop() error {
	s.logger.Info("Stopping service...")

	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := s.group.Wait(); err != nil {
		s.logger.Warn("Background loop ended with error: %v", err)
	}

	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			s.logger.Warn("Failed to close broker connection: %v", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close cache: %v", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection: %v", err)
		}
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("Service stopped")
	return nil
}

func (s *Service) goBackground(name string, run func() error) {
	s.group.Go(func() error {
		if err := run(); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("%s stopped: %v", name, err)
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Repositories returns the service repositories, or nil before Initialize.
func (s *Service) Repositories() *repository.Repositories { return s.db }

// Storage returns the object storage, or nil before Initialize.
func (s *Service) Storage() storage.Storage { return s.storage }

// Stats returns service statistics.
func (s *Service) Stats() ServiceStats {
	stats := ServiceStats{Running: s.IsRunning()}
	if s.scheduler != nil {
		stats.Scheduler = s.scheduler.Stats()
	}
	return stats
}

// HealthCheck checks the database connection and the object storage.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}
	}
	if s.storage != nil {
		if _, err := s.storage.Exists(ctx, healthKey); err != nil {
			return fmt.Errorf("storage health check failed: %w", err)
		}
	}
	return nil
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	Running   bool                     `json:"running"`
	Scheduler scheduler.SchedulerStats `json:"scheduler"`
}
