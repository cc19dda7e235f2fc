package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cohenjo/plansync/pkg/config"
	"github.com/cohenjo/plansync/pkg/estuary"
	"github.com/cohenjo/plansync/pkg/events"
	"github.com/cohenjo/plansync/pkg/identity"
	"github.com/cohenjo/plansync/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCatalog struct {
	properties []models.Property
}

func (c *stubCatalog) ListTrackingPlans(ctx context.Context) ([]models.TrackingPlan, error) {
	return nil, nil
}

func (c *stubCatalog) ListEvents(ctx context.Context, planID string) ([]models.Event, error) {
	return nil, nil
}

func (c *stubCatalog) GetEventDetail(ctx context.Context, planID, eventID string) (*models.EventDetail, error) {
	return nil, fmt.Errorf("event %s not found", eventID)
}

func (c *stubCatalog) ListProperties(ctx context.Context) ([]models.Property, error) {
	return c.properties, nil
}

type stubWorkspace struct {
	mu   sync.Mutex
	next int
}

func (w *stubWorkspace) id(prefix string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	return fmt.Sprintf("%s-%d", prefix, w.next)
}

func (w *stubWorkspace) CreatePropertiesCollection(ctx context.Context) (string, error) {
	return w.id("db"), nil
}

func (w *stubWorkspace) CreatePlanCollection(ctx context.Context, title, propertiesCollectionID string) (string, error) {
	return w.id("db"), nil
}

func (w *stubWorkspace) ArchiveCollection(ctx context.Context, id string) error { return nil }

func (w *stubWorkspace) AddPropertyRecord(ctx context.Context, collectionID, name string, propType models.PropertyType, description string) (string, error) {
	return w.id("page"), nil
}

func (w *stubWorkspace) AddEventRecord(ctx context.Context, collectionID, name, description string, referencedIDs []string) (string, error) {
	return w.id("page"), nil
}

func (w *stubWorkspace) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	return &models.Collection{ID: id, Title: estuary.PropertiesCollectionTitle}, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Cache.Type = "memory"
	cfg.Source.APIToken = "source-token"
	cfg.Destination.APIToken = "destination-token"
	cfg.Destination.ParentPageID = "parent"
	cfg.Telemetry.Enabled = false
	return cfg
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestService(t *testing.T) (*Service, *identity.MemoryBackend) {
	t.Helper()
	backend := identity.NewMemoryBackend()
	svc, err := New(context.Background(), Options{
		Config:    testConfig(),
		Logger:    quietLogger(),
		Source:    &stubCatalog{properties: []models.Property{{Name: "email", Type: models.PropertyTypeString}}},
		Workspace: &stubWorkspace{},
		Backend:   backend,
	})
	require.NoError(t, err)
	return svc, backend
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}

func TestNewBuildsHTTPClientsFromConfig(t *testing.T) {
	svc, err := New(context.Background(), Options{
		Config:  testConfig(),
		Logger:  quietLogger(),
		Backend: identity.NewMemoryBackend(),
	})
	require.NoError(t, err)
	assert.NotNil(t, svc.Syncer())
	assert.NoError(t, svc.Close())
}

func TestNewRejectsInvalidShapingSpec(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.EventDetailSpec = "not a spec"
	backend := identity.NewMemoryBackend()

	_, err := New(context.Background(), Options{Config: cfg, Logger: quietLogger(), Backend: backend})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event detail shaper")

	// the backend opened before the failure is released
	assert.ErrorIs(t, backend.HealthCheck(context.Background()), identity.ErrBackendClosed)
}

func TestNewMissingDestinationToken(t *testing.T) {
	cfg := testConfig()
	cfg.Destination.APIToken = ""

	_, err := New(context.Background(), Options{Config: cfg, Logger: quietLogger(), Backend: identity.NewMemoryBackend()})
	assert.Error(t, err)
}

func TestInfo(t *testing.T) {
	svc, _ := newTestService(t)
	defer svc.Close()

	info := svc.Info()
	assert.Equal(t, StatusStopped, info.Status)
	assert.Equal(t, "memory", info.Backend)
	assert.Equal(t, config.Version, info.Version)
	assert.Equal(t, 0, info.Namespaces[identity.NamespaceProperties])
	assert.Equal(t, 0, info.Namespaces[identity.NamespaceCollections])
}

func TestSyncThroughAPI(t *testing.T) {
	svc, backend := newTestService(t)
	defer svc.Close()

	server := httptest.NewServer(svc.APIServer().Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/sync-event-properties", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	id, ok := svc.Cache().Lookup(identity.NamespaceCollections, estuary.PropertiesCollectionTitle)
	assert.True(t, ok)
	assert.NotEmpty(t, id)
	assert.Contains(t, backend.Stored(identity.NamespaceProperties), "email")
	assert.Equal(t, 1, svc.Info().Namespaces[identity.NamespaceProperties])
}

func TestHealthReflectsCacheBackend(t *testing.T) {
	svc, backend := newTestService(t)
	defer svc.Close()

	server := httptest.NewServer(svc.APIServer().Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, backend.Close())
	resp, err = http.Get(server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStartAndClose(t *testing.T) {
	svc, backend := newTestService(t)

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StatusRunning, svc.Status())
	assert.Error(t, svc.Start(context.Background()))

	require.NoError(t, svc.Close())
	assert.Equal(t, StatusStopped, svc.Status())
	assert.ErrorIs(t, backend.HealthCheck(context.Background()), identity.ErrBackendClosed)
}

func TestShutdownHooksOrder(t *testing.T) {
	svc, _ := newTestService(t)
	defer svc.Close()

	hooks := svc.NewShutdownHandler().Hooks()
	names := make([]string, 0, len(hooks))
	for _, hook := range hooks {
		names = append(names, hook.Name)
	}
	assert.Equal(t, []string{"http_server", "telemetry_flush", "publishers_close", "identity_cache_close"}, names)
}

func TestNewPublisher(t *testing.T) {
	logger := quietLogger()

	t.Run("no sinks", func(t *testing.T) {
		publisher, err := NewPublisher(config.NotificationsConfig{}, logger)
		require.NoError(t, err)
		assert.IsType(t, events.NoopPublisher{}, publisher)
	})

	t.Run("elasticsearch", func(t *testing.T) {
		publisher, err := NewPublisher(config.NotificationsConfig{
			Elasticsearch: events.ElasticConfig{Enabled: true, Addresses: []string{"http://127.0.0.1:9200"}},
		}, logger)
		require.NoError(t, err)
		assert.IsType(t, &events.ElasticPublisher{}, publisher)
	})

	t.Run("kafka without brokers", func(t *testing.T) {
		_, err := NewPublisher(config.NotificationsConfig{
			Kafka: events.KafkaConfig{Enabled: true, Topic: "runs"},
		}, logger)
		assert.Error(t, err)
	})
}
