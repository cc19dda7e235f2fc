package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cohenjo/plansync/pkg/api"
	"github.com/cohenjo/plansync/pkg/catalog"
	"github.com/cohenjo/plansync/pkg/config"
	"github.com/cohenjo/plansync/pkg/estuary"
	"github.com/cohenjo/plansync/pkg/events"
	"github.com/cohenjo/plansync/pkg/identity"
	"github.com/cohenjo/plansync/pkg/metrics"
	"github.com/cohenjo/plansync/pkg/syncer"
	"github.com/cohenjo/plansync/pkg/transform"
	"github.com/sirupsen/logrus"
)

// Status represents the lifecycle state of the service
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Shutdown hook priorities, lower runs first
const (
	PriorityHTTPServer = 10
	PriorityTelemetry  = 20
	PriorityPublishers = 30
	PriorityCache      = 40
)

// Options configures a Service
type Options struct {
	Config *config.Config
	Logger *logrus.Logger

	// Source and Workspace replace the HTTP clients built from Config
	Source    catalog.Client
	Workspace estuary.Workspace

	// Backend replaces the identity backend built from Config.Cache
	Backend identity.Backend
}

// Service wires every plansync component from configuration
type Service struct {
	config    *config.Config
	logger    *logrus.Logger
	cache     *identity.Cache
	telemetry *metrics.TelemetryManager
	publisher events.Publisher
	syncer    *syncer.Service
	health    *api.HealthService
	apiServer *api.Server

	status    Status
	startTime time.Time
	serveErr  chan error
	wg        sync.WaitGroup
	mu        sync.RWMutex
}

// Info is a point-in-time view of the service
type Info struct {
	Status     Status                     `json:"status"`
	Version    string                     `json:"version"`
	Uptime     time.Duration              `json:"uptime"`
	Backend    string                     `json:"backend"`
	Namespaces map[identity.Namespace]int `json:"namespaces"`
}

// New builds the service. Components that were opened are closed again if a
// later one fails.
func New(ctx context.Context, opts Options) (svc *Service, err error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	cfg := opts.Config
	logger := opts.Logger

	var closers []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](); cerr != nil {
				logger.WithError(cerr).Warn("Failed to release component after startup error")
			}
		}
	}()

	telemetryConfig := cfg.Telemetry
	if telemetryConfig.ServiceVersion == "" {
		telemetryConfig.ServiceVersion = config.Version
	}
	telemetry, err := metrics.NewTelemetryManager(telemetryConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry manager: %w", err)
	}
	closers = append(closers, func() error { return telemetry.Stop(context.Background()) })

	backend := opts.Backend
	if backend == nil {
		cacheConfig := cfg.Cache
		cacheConfig.Logger = logger
		if backend, err = identity.NewBackend(ctx, &cacheConfig); err != nil {
			return nil, fmt.Errorf("failed to create identity backend: %w", err)
		}
	}
	closers = append(closers, backend.Close)

	cache, err := identity.Open(ctx, backend, identity.Options{
		OnCorrupt: identity.CorruptionPolicy(cfg.Cache.OnCorrupt),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open identity cache: %w", err)
	}

	source := opts.Source
	if source == nil {
		if source, err = catalog.NewHTTPClient(cfg.Source, logger); err != nil {
			return nil, fmt.Errorf("failed to create catalog client: %w", err)
		}
	}

	workspace := opts.Workspace
	if workspace == nil {
		if workspace, err = estuary.NewNotionWorkspace(cfg.Destination, logger); err != nil {
			return nil, fmt.Errorf("failed to create workspace client: %w", err)
		}
	}

	var shaper *transform.Shaper
	if cfg.Sync.EventDetailSpec != "" {
		shaper, err = transform.NewShaperFromSpec(cfg.Sync.EventDetailSpec)
	} else {
		shaper, err = transform.NewEventDetailShaper()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build event detail shaper: %w", err)
	}

	publisher, err := NewPublisher(cfg.Notifications, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, publisher.Close)

	syncService, err := syncer.NewService(cache, source, workspace, syncer.Options{
		AbortOnPropertyArchiveFailure: cfg.Sync.AbortOnPropertyArchiveFailure,
		RunTimeout:                    cfg.Sync.RunTimeout,
		Shaper:                        shaper,
		Telemetry:                     telemetry,
		Publisher:                     publisher,
		Logger:                        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sync service: %w", err)
	}

	health := api.NewHealthService(config.Version, cfg.Telemetry.Environment)
	health.RegisterChecker(api.NewPingChecker("identity_cache", true, cache.HealthCheck, backend.Name()))
	health.RegisterChecker(api.NewMemoryChecker("memory", false, 1024, nil))

	apiServer, err := api.NewServer(cfg.Server, syncService, health, telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"backend":       backend.Name(),
		"kafka":         cfg.Notifications.Kafka.Enabled,
		"elasticsearch": cfg.Notifications.Elasticsearch.Enabled,
	}).Info("plansync service created")

	return &Service{
		config:    cfg,
		logger:    logger,
		cache:     cache,
		telemetry: telemetry,
		publisher: publisher,
		syncer:    syncService,
		health:    health,
		apiServer: apiServer,
		status:    StatusStopped,
		serveErr:  make(chan error, 1),
	}, nil
}

// NewPublisher builds the run event publisher for every enabled sink
func NewPublisher(cfg config.NotificationsConfig, logger *logrus.Logger) (events.Publisher, error) {
	var publishers events.MultiPublisher

	if cfg.Kafka.Enabled {
		kafka, err := events.NewKafkaPublisher(cfg.Kafka, logger.WithField("sink", "kafka"))
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		publishers = append(publishers, kafka)
	}

	if cfg.Elasticsearch.Enabled {
		elastic, err := events.NewElasticPublisher(cfg.Elasticsearch, logger.WithField("sink", "elasticsearch"))
		if err != nil {
			_ = publishers.Close()
			return nil, fmt.Errorf("failed to create elasticsearch publisher: %w", err)
		}
		publishers = append(publishers, elastic)
	}

	switch len(publishers) {
	case 0:
		return events.NoopPublisher{}, nil
	case 1:
		return publishers[0], nil
	default:
		return publishers, nil
	}
}

// Syncer returns the sync orchestrator
func (s *Service) Syncer() *syncer.Service {
	return s.syncer
}

// Cache returns the identity cache
func (s *Service) Cache() *identity.Cache {
	return s.cache
}

// APIServer returns the HTTP API server
func (s *Service) APIServer() *api.Server {
	return s.apiServer
}

// Health returns the health service
func (s *Service) Health() *api.HealthService {
	return s.health
}

// Start starts telemetry and serves the HTTP API in the background.
// Serve errors are delivered on Errors.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusStopped {
		return fmt.Errorf("service is already %s", s.status)
	}
	s.status = StatusStarting
	s.startTime = time.Now()

	if err := s.telemetry.Start(ctx); err != nil {
		s.status = StatusError
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.apiServer.Start(); err != nil {
			s.logger.WithError(err).Error("API server failed")
			s.mu.Lock()
			s.status = StatusError
			s.mu.Unlock()
			s.serveErr <- err
		}
	}()

	s.status = StatusRunning
	s.logger.WithField("address", s.apiServer.Addr()).Info("plansync service started")
	return nil
}

// Errors delivers a fatal HTTP serve error
func (s *Service) Errors() <-chan error {
	return s.serveErr
}

// Stop waits for the serve goroutine to exit. Resources are released by the
// shutdown hooks.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusStopping
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("timed out waiting for the API server: %w", ctx.Err())
	}

	s.mu.Lock()
	s.status = StatusStopped
	uptime := time.Since(s.startTime)
	s.mu.Unlock()

	s.logger.WithField("uptime", uptime).Info("plansync service stopped")
	return err
}

// Status returns the current lifecycle state
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Info reports status, uptime and cache sizes
func (s *Service) Info() Info {
	s.mu.RLock()
	status, started := s.status, s.startTime
	s.mu.RUnlock()

	info := Info{
		Status:     status,
		Version:    config.Version,
		Backend:    s.cache.Backend().Name(),
		Namespaces: make(map[identity.Namespace]int),
	}
	if !started.IsZero() && status == StatusRunning {
		info.Uptime = time.Since(started)
	}
	for _, ns := range identity.Namespaces() {
		info.Namespaces[ns] = s.cache.Len(ns)
	}
	return info
}

// ShutdownHooks returns the hooks releasing every component in order
func (s *Service) ShutdownHooks() []ShutdownHook {
	return []ShutdownHook{
		{
			Name:     "http_server",
			Priority: PriorityHTTPServer,
			Timeout:  s.config.Server.ShutdownTimeout,
			Fn: func(ctx context.Context) error {
				if s.Status() == StatusStopped {
					return nil
				}
				return s.apiServer.Stop(ctx)
			},
		},
		{
			Name:     "telemetry_flush",
			Priority: PriorityTelemetry,
			Fn:       s.telemetry.Stop,
		},
		{
			Name:     "publishers_close",
			Priority: PriorityPublishers,
			Fn: func(context.Context) error {
				return s.publisher.Close()
			},
		},
		{
			Name:     "identity_cache_close",
			Priority: PriorityCache,
			Fn: func(context.Context) error {
				return s.cache.Close()
			},
		},
	}
}

// NewShutdownHandler returns a handler carrying the service's hooks
func (s *Service) NewShutdownHandler() *ShutdownHandler {
	handler := NewShutdownHandler(ShutdownHandlerOptions{
		Service:         s,
		Logger:          s.logger,
		ShutdownTimeout: s.config.Server.ShutdownTimeout,
	})
	for _, hook := range s.ShutdownHooks() {
		handler.AddHook(hook)
	}
	return handler
}

// Close releases every component without waiting for a signal
func (s *Service) Close() error {
	return s.NewShutdownHandler().Shutdown()
}
