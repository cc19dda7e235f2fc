package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cohenjo/plansync/pkg/catalog"
	"github.com/cohenjo/plansync/pkg/estuary"
	"github.com/cohenjo/plansync/pkg/events"
	"github.com/cohenjo/plansync/pkg/identity"
	"github.com/cohenjo/plansync/pkg/metrics"
	"github.com/cohenjo/plansync/pkg/transform"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Phase names used in metrics, traces and run events
const (
	PhaseProperties = "properties"
	PhasePlans      = "plans"
	PhaseAll        = "all"
)

const publishTimeout = 10 * time.Second

// Options configures a Service. Zero values are usable.
type Options struct {
	// AbortOnPropertyArchiveFailure makes a failed archive of the properties
	// collection fatal. Plans always skip on archive failure.
	AbortOnPropertyArchiveFailure bool

	// RunTimeout bounds a whole run; zero means unbounded
	RunTimeout time.Duration

	// Shaper extracts referenced property names from event details
	Shaper *transform.Shaper

	Telemetry *metrics.TelemetryManager
	Publisher events.Publisher
	Logger    *logrus.Logger
}

// PropertySyncOptions tunes one property sync
type PropertySyncOptions struct {
	// Resume reuses a live properties collection and creates only the
	// properties not yet recorded in the cache
	Resume bool
}

// Service reconciles the source catalog into the destination workspace
type Service struct {
	cache     *identity.Cache
	source    catalog.Client
	workspace estuary.Workspace
	shaper    *transform.Shaper
	options   Options
	telemetry *metrics.TelemetryManager
	publisher events.Publisher
	logger    *logrus.Logger

	running sync.Mutex
}

// NewService creates a sync service
func NewService(cache *identity.Cache, source catalog.Client, workspace estuary.Workspace, options Options) (*Service, error) {
	if cache == nil {
		return nil, fmt.Errorf("identity cache is required")
	}
	if source == nil {
		return nil, fmt.Errorf("catalog client is required")
	}
	if workspace == nil {
		return nil, fmt.Errorf("destination workspace is required")
	}

	shaper := options.Shaper
	if shaper == nil {
		var err error
		if shaper, err = transform.NewEventDetailShaper(); err != nil {
			return nil, fmt.Errorf("failed to build event detail shaper: %w", err)
		}
	}

	logger := options.Logger
	if logger == nil {
		logger = logrus.New()
	}

	publisher := options.Publisher
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	return &Service{
		cache:     cache,
		source:    source,
		workspace: workspace,
		shaper:    shaper,
		options:   options,
		telemetry: options.Telemetry,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Cache returns the identity cache the service writes through
func (s *Service) Cache() *identity.Cache {
	return s.cache
}

// SyncProperties runs the property phase
func (s *Service) SyncProperties(ctx context.Context, opts PropertySyncOptions) (*PropertiesReport, error) {
	ctx, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	runID := uuid.NewString()
	started := time.Now()
	report, err := s.syncProperties(ctx, runID, opts)
	s.finish(ctx, runID, PhaseProperties, started, report.Counts(), err)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// SyncTrackingPlans runs the plan phase. The properties collection must be live.
func (s *Service) SyncTrackingPlans(ctx context.Context) (*PlansReport, error) {
	ctx, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	runID := uuid.NewString()
	started := time.Now()
	report, err := s.syncTrackingPlans(ctx, runID)
	s.finish(ctx, runID, PhasePlans, started, report.Counts(), err)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// SyncAll runs the property phase then the plan phase under one run id
func (s *Service) SyncAll(ctx context.Context, opts PropertySyncOptions) (*RunReport, error) {
	ctx, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	report := &RunReport{RunID: uuid.NewString()}
	started := time.Now()

	report.Properties, err = s.syncProperties(ctx, report.RunID, opts)
	if err == nil {
		report.Plans, err = s.syncTrackingPlans(ctx, report.RunID)
	}
	s.finish(ctx, report.RunID, PhaseAll, started, report.Counts(), err)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// begin takes the run guard and applies the run timeout
func (s *Service) begin(ctx context.Context) (context.Context, func(), error) {
	if !s.running.TryLock() {
		return nil, nil, ErrSyncInProgress
	}
	cancel := context.CancelFunc(func() {})
	if s.options.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.options.RunTimeout)
	}
	return ctx, func() {
		cancel()
		s.running.Unlock()
	}, nil
}

// finish records metrics and publishes the run event. Publishing never fails a run.
func (s *Service) finish(ctx context.Context, runID, phase string, started time.Time, counts map[string]int, runErr error) {
	finished := time.Now()
	status := events.StatusSucceeded
	if runErr != nil {
		status = events.StatusFailed
	}
	s.telemetry.RecordRun(ctx, phase, status, finished.Sub(started))

	event := &events.RunEvent{
		RunID:      runID,
		Phase:      phase,
		Status:     status,
		StartedAt:  started,
		FinishedAt: finished,
		DurationMS: finished.Sub(started).Milliseconds(),
		Counts:     counts,
	}
	fields := logrus.Fields{
		"run_id":      runID,
		"phase":       phase,
		"duration_ms": event.DurationMS,
	}
	if runErr != nil {
		event.Error = runErr.Error()
		s.logger.WithFields(fields).WithError(runErr).Error("Sync run failed")
	} else {
		s.logger.WithFields(fields).Info("Sync run finished")
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(publishCtx, event); err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("Failed to publish run event")
	}
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.telemetry.StartTrace(ctx, name, attrs...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// cancelled reports whether err came from the run context ending
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
