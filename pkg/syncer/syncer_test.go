package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cohenjo/plansync/pkg/estuary"
	"github.com/cohenjo/plansync/pkg/events"
	"github.com/cohenjo/plansync/pkg/identity"
	"github.com/cohenjo/plansync/pkg/models"
	"github.com/cohenjo/plansync/pkg/remote"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	backend   *identity.MemoryBackend
	cache     *identity.Cache
	catalog   *fakeCatalog
	workspace *fakeWorkspace
	publisher *recordingPublisher
	service   *Service
}

type recordingPublisher struct {
	mutex  sync.Mutex
	events []*events.RunEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event *events.RunEvent) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []*events.RunEvent {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]*events.RunEvent(nil), p.events...)
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		backend:   identity.NewMemoryBackend(),
		catalog:   newFakeCatalog(),
		workspace: newFakeWorkspace(),
		publisher: &recordingPublisher{},
	}
	h.reopen(t, opts)
	return h
}

// reopen reloads the cache from the backend, as a restarted process would
func (h *harness) reopen(t *testing.T, opts Options) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cache, err := identity.Open(context.Background(), h.backend, identity.Options{Logger: logger})
	require.NoError(t, err)

	opts.Logger = logger
	if opts.Publisher == nil {
		opts.Publisher = h.publisher
	}
	service, err := NewService(cache, h.catalog, h.workspace, opts)
	require.NoError(t, err)
	h.cache = cache
	h.service = service
}

func propertiesNamed(names ...string) []models.Property {
	out := make([]models.Property, 0, len(names))
	for i, name := range names {
		out = append(out, models.Property{ID: fmt.Sprintf("prop-%d", i+1), Name: name, Type: models.PropertyTypeString})
	}
	return out
}

func TestNewService_Validation(t *testing.T) {
	cache, err := identity.Open(context.Background(), identity.NewMemoryBackend(), identity.Options{})
	require.NoError(t, err)

	_, err = NewService(nil, newFakeCatalog(), newFakeWorkspace(), Options{})
	assert.Error(t, err)
	_, err = NewService(cache, nil, newFakeWorkspace(), Options{})
	assert.Error(t, err)
	_, err = NewService(cache, newFakeCatalog(), nil, Options{})
	assert.Error(t, err)

	s, err := NewService(cache, newFakeCatalog(), newFakeWorkspace(), Options{})
	require.NoError(t, err)
	assert.Same(t, cache, s.Cache())
}

func TestSyncProperties_FirstRun(t *testing.T) {
	h := newHarness(t, Options{})
	h.catalog.properties = propertiesNamed("email", "plan", "age")

	report, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 3, report.Created)
	assert.False(t, report.Archived)
	assert.Empty(t, report.PreviousCollectionID)
	assert.NotEmpty(t, report.RunID)

	live := h.workspace.live(estuary.PropertiesCollectionTitle)
	require.Len(t, live, 1)
	assert.Equal(t, live[0].ID, report.CollectionID)
	assert.Equal(t, []string{"age", "email", "plan"}, recordNames(live[0]))

	id, ok := h.cache.Lookup(identity.NamespaceCollections, estuary.PropertiesCollectionTitle)
	require.True(t, ok)
	assert.Equal(t, report.CollectionID, id)

	stored := h.backend.Stored(identity.NamespaceProperties)
	assert.Len(t, stored, 3)
	for _, record := range live[0].Records {
		require.NotNil(t, stored[record.Name])
		assert.Equal(t, record.ID, *stored[record.Name])
	}
}

func TestSyncProperties_IdempotentConvergence(t *testing.T) {
	h := newHarness(t, Options{})
	h.catalog.properties = propertiesNamed("email", "plan", "age")

	first, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{})
	require.NoError(t, err)
	second, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{})
	require.NoError(t, err)

	assert.True(t, second.Archived)
	assert.Equal(t, first.CollectionID, second.PreviousCollectionID)
	assert.NotEqual(t, first.CollectionID, second.CollectionID)

	all := h.workspace.collectionsTitled(estuary.PropertiesCollectionTitle)
	require.Len(t, all, 2)
	assert.True(t, all[0].Archived)

	live := h.workspace.live(estuary.PropertiesCollectionTitle)
	require.Len(t, live, 1)
	assert.Equal(t, second.CollectionID, live[0].ID)
	assert.Equal(t, recordNames(all[0]), recordNames(live[0]))

	// every cached property id points into the live collection
	ids := make(map[string]bool)
	for _, r := range live[0].Records {
		ids[r.ID] = true
	}
	for name, id := range h.cache.Snapshot(identity.NamespaceProperties) {
		require.NotNil(t, id, name)
		assert.True(t, ids[*id], name)
	}
}

func TestSyncProperties_ArchiveFailure(t *testing.T) {
	archiveErr := &remote.RequestError{Method: "PATCH", URL: "v1/databases/db-1", StatusCode: 500, Body: "boom"}

	t.Run("continues by default", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.catalog.properties = propertiesNamed("email")
		first, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{})
		require.NoError(t, err)

		h.workspace.archiveErr[first.CollectionID] = archiveErr
		second, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{})
		require.NoError(t, err)

		assert.False(t, second.Archived)
		assert.Contains(t, second.ArchiveError, "500")
		assert.Equal(t, 1, second.Created)

		id, ok := h.cache.Lookup(identity.NamespaceCollections, estuary.PropertiesCollectionTitle)
		require.True(t, ok)
		assert.Equal(t, second.CollectionID, id)
	})

	t.Run("aborts when configured", func(t *testing.T) {
		h := newHarness(t, Options{AbortOnPropertyArchiveFailure: true})
		h.catalog.properties = propertiesNamed("email")
		first, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{})
		require.NoError(t, err)

		h.workspace.archiveErr[first.CollectionID] = archiveErr
		_, err = h.service.SyncProperties(context.Background(), PropertySyncOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, remote.ErrRemoteRequest)

		assert.Len(t, h.workspace.collectionsTitled(estuary.PropertiesCollectionTitle), 1)
		id, _ := h.cache.Lookup(identity.NamespaceCollections, estuary.PropertiesCollectionTitle)
		assert.Equal(t, first.CollectionID, id)
	})
}

func TestSyncProperties_CreateFailureKeepsRecordIDs(t *testing.T) {
	h := newHarness(t, Options{})
	h.catalog.properties = propertiesNamed("email")
	first, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{})
	require.NoError(t, err)
	emailID, ok := h.cache.Lookup(identity.NamespaceProperties, "email")
	require.True(t, ok)

	h.workspace.archiveErr[first.CollectionID] = &remote.RequestError{Method: "PATCH", URL: "v1/databases/db-1", StatusCode: 500, Body: "boom"}
	h.workspace.createPropsErr = &remote.RequestError{Method: "POST", URL: "v1/databases", StatusCode: 502, Body: "bad gateway"}
	_, err = h.service.SyncProperties(context.Background(), PropertySyncOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrRemoteRequest)

	id, ok := h.cache.Lookup(identity.NamespaceCollections, estuary.PropertiesCollectionTitle)
	require.True(t, ok)
	assert.Equal(t, first.CollectionID, id)

	got, ok := h.cache.Lookup(identity.NamespaceProperties, "email")
	require.True(t, ok)
	assert.Equal(t, emailID, got)

	h.catalog.plans = []models.TrackingPlan{{ID: "tp1", Name: "Web"}}
	h.catalog.addEvent("tp1", models.Event{ID: "ev1", Name: "Signed Up"}, "email")
	report, err := h.service.SyncTrackingPlans(context.Background())
	require.NoError(t, err)
	plan, ok := report.Plan("Web")
	require.True(t, ok)
	require.Len(t, plan.Events, 1)
	assert.Equal(t, EventCreated, plan.Events[0].Outcome)
	assert.Equal(t, []string{emailID}, plan.Events[0].ReferencedIDs)
}

func TestSyncProperties_DuplicateAndEmptyNames(t *testing.T) {
	h := newHarness(t, Options{})
	h.catalog.properties = append(propertiesNamed("email", "email", "plan"), models.Property{ID: "x"})

	report, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Fetched)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 2, report.Skipped)
}

func TestSyncProperties_ListFailurePropagates(t *testing.T) {
	h := newHarness(t, Options{})
	h.catalog.listPropertiesErr = &remote.RequestError{Method: "GET", URL: "catalog/properties", StatusCode: 401, Body: "unauthorized"}

	_, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{})
	require.Error(t, err)

	var requestErr *remote.RequestError
	require.True(t, errors.As(err, &requestErr))
	assert.Equal(t, 401, requestErr.StatusCode)

	published := h.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, events.StatusFailed, published[0].Status)
	assert.Equal(t, PhaseProperties, published[0].Phase)
	assert.Contains(t, published[0].Error, "401")
}

func TestSyncProperties_CrashAndResume(t *testing.T) {
	names := []string{"p01", "p02", "p03", "p04", "p05", "p06", "p07", "p08", "p09", "p10"}
	h := newHarness(t, Options{})
	h.catalog.properties = propertiesNamed(names...)

	// the sixth record never gets created
	h.workspace.failPropertyAfter = 5
	_, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{})
	require.Error(t, err)

	// restart from what was persisted
	h.reopen(t, Options{})
	assert.Equal(t, names[:5], h.cache.Names(identity.NamespaceProperties))
	collectionID, ok := h.cache.Lookup(identity.NamespaceCollections, estuary.PropertiesCollectionTitle)
	require.True(t, ok)

	h.workspace.failPropertyAfter = -1
	report, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{Resume: true})
	require.NoError(t, err)

	assert.True(t, report.Resumed)
	assert.Equal(t, collectionID, report.CollectionID)
	assert.Equal(t, 5, report.Created)
	assert.Equal(t, 5, report.Skipped)
	assert.Empty(t, h.workspace.archiveCalls)

	collection := h.workspace.collection(collectionID)
	assert.Equal(t, names, recordNames(collection))
	assert.Len(t, h.workspace.collectionsTitled(estuary.PropertiesCollectionTitle), 1)
	assert.Equal(t, names, h.cache.Names(identity.NamespaceProperties))
}

func TestSyncProperties_ResumeFallsBack(t *testing.T) {
	t.Run("collection archived remotely", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.catalog.properties = propertiesNamed("email")
		first, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{})
		require.NoError(t, err)
		require.NoError(t, h.workspace.ArchiveCollection(context.Background(), first.CollectionID))

		report, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{Resume: true})
		require.NoError(t, err)
		assert.False(t, report.Resumed)
		assert.NotEqual(t, first.CollectionID, report.CollectionID)
		assert.Equal(t, first.CollectionID, report.PreviousCollectionID)
		assert.Equal(t, 1, report.Created)
	})

	t.Run("nothing cached", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.catalog.properties = propertiesNamed("email")
		report, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{Resume: true})
		require.NoError(t, err)
		assert.False(t, report.Resumed)
		assert.Equal(t, 1, report.Created)
	})
}

func seedPlanHarness(t *testing.T, properties identity.Entries) *harness {
	t.Helper()
	h := newHarness(t, Options{})
	propsID := "props-db"
	h.backend.Seed(identity.NamespaceCollections, identity.Entries{estuary.PropertiesCollectionTitle: &propsID})
	h.backend.Seed(identity.NamespaceProperties, properties)
	h.reopen(t, Options{})
	return h
}

func strPtr(s string) *string { return &s }

func TestSyncTrackingPlans_PrerequisiteMissing(t *testing.T) {
	h := newHarness(t, Options{})
	h.catalog.plans = []models.TrackingPlan{{ID: "tp1", Name: "Web"}}

	_, err := h.service.SyncTrackingPlans(context.Background())
	require.Error(t, err)

	var missing *PrerequisiteMissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, estuary.PropertiesCollectionTitle, missing.Collection)
	assert.ErrorIs(t, err, ErrPrerequisiteMissing)
	assert.Zero(t, h.catalog.callCount())
}

func TestSyncTrackingPlans_ReferenceIntegrity(t *testing.T) {
	h := seedPlanHarness(t, identity.Entries{"email": strPtr("pid1")})
	h.catalog.plans = []models.TrackingPlan{{ID: "tp1", Name: "Web"}}
	h.catalog.addEvent("tp1", models.Event{ID: "ev1", Name: "Signed Up"}, "email", "plan")

	report, err := h.service.SyncTrackingPlans(context.Background())
	require.NoError(t, err)

	plan, ok := report.Plan("Web")
	require.True(t, ok)
	assert.Equal(t, PlanSynced, plan.Outcome)
	require.Len(t, plan.Events, 1)

	event := plan.Events[0]
	assert.Equal(t, EventCreated, event.Outcome)
	assert.Equal(t, []string{"pid1"}, event.ReferencedIDs)
	assert.Equal(t, []string{"plan"}, event.Unresolved)

	collection := h.workspace.collection(plan.CollectionID)
	require.NotNil(t, collection)
	assert.Equal(t, "props-db", collection.References)
	require.Len(t, collection.Records, 1)
	assert.Equal(t, []string{"pid1"}, collection.Records[0].ReferencedIDs)
	assert.Equal(t, "from detail", collection.Records[0].Description)

	id, ok := h.cache.Lookup(identity.NamespaceCollections, "Web")
	require.True(t, ok)
	assert.Equal(t, plan.CollectionID, id)
}

func TestSyncTrackingPlans_EmptyReferenceSkips(t *testing.T) {
	h := seedPlanHarness(t, identity.Entries{"email": strPtr("pid1")})
	h.catalog.plans = []models.TrackingPlan{{ID: "tp1", Name: "Web"}}
	h.catalog.addEvent("tp1", models.Event{ID: "ev1", Name: "Page Viewed"})
	h.catalog.addEvent("tp1", models.Event{ID: "ev2", Name: "Clicked"}, "button", "color")
	h.catalog.addEvent("tp1", models.Event{ID: "ev3", Name: "Signed Up", Description: "from list"}, "email")

	report, err := h.service.SyncTrackingPlans(context.Background())
	require.NoError(t, err)

	plan, _ := report.Plan("Web")
	require.Len(t, plan.Events, 3)
	assert.Equal(t, EventSkippedNoProperties, plan.Events[0].Outcome)
	assert.Equal(t, EventSkippedUnresolvedProperties, plan.Events[1].Outcome)
	assert.Equal(t, []string{"button", "color"}, plan.Events[1].Unresolved)
	assert.Equal(t, EventCreated, plan.Events[2].Outcome)

	collection := h.workspace.collection(plan.CollectionID)
	require.Len(t, collection.Records, 1)
	assert.Equal(t, "Signed Up", collection.Records[0].Name)
	assert.Equal(t, "from list", collection.Records[0].Description)

	assert.Equal(t, map[string]int{
		"created":                       1,
		"skipped_no_properties":         1,
		"skipped_unresolved_properties": 1,
	}, report.Counts())
}

func TestSyncTrackingPlans_ArchiveFailureSkipsPlan(t *testing.T) {
	h := seedPlanHarness(t, identity.Entries{"email": strPtr("pid1")})
	h.catalog.plans = []models.TrackingPlan{{ID: "tp1", Name: "Web"}, {ID: "tp2", Name: "Mobile"}}
	h.catalog.addEvent("tp1", models.Event{ID: "ev1", Name: "Signed Up"}, "email")
	h.catalog.addEvent("tp2", models.Event{ID: "ev2", Name: "App Opened"}, "email")

	first, err := h.service.SyncTrackingPlans(context.Background())
	require.NoError(t, err)
	web, _ := first.Plan("Web")
	mobile, _ := first.Plan("Mobile")

	h.workspace.archiveErr[web.CollectionID] = &remote.RequestError{Method: "PATCH", StatusCode: 409, Body: "conflict"}

	second, err := h.service.SyncTrackingPlans(context.Background())
	require.NoError(t, err)

	webAgain, _ := second.Plan("Web")
	assert.Equal(t, PlanSkippedArchiveFailed, webAgain.Outcome)
	assert.Empty(t, webAgain.CollectionID)
	assert.Contains(t, webAgain.Error, "409")
	assert.Len(t, h.workspace.collectionsTitled("Web"), 1)

	id, ok := h.cache.Lookup(identity.NamespaceCollections, "Web")
	require.True(t, ok)
	assert.Equal(t, web.CollectionID, id)

	mobileAgain, _ := second.Plan("Mobile")
	assert.Equal(t, PlanSynced, mobileAgain.Outcome)
	assert.Equal(t, mobile.CollectionID, mobileAgain.PreviousCollectionID)
	assert.True(t, h.workspace.collection(mobile.CollectionID).Archived)
	assert.Len(t, h.workspace.live("Mobile"), 1)

	assert.Equal(t, map[string]int{"synced": 1, "skipped_archive_failed": 1}, second.PlanCounts())
}

func TestSyncTrackingPlans_ReservedName(t *testing.T) {
	h := seedPlanHarness(t, identity.Entries{})
	h.catalog.plans = []models.TrackingPlan{{ID: "tp1", Name: estuary.PropertiesCollectionTitle}}

	report, err := h.service.SyncTrackingPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Plans, 1)
	assert.Equal(t, PlanSkippedReservedName, report.Plans[0].Outcome)
	assert.Empty(t, h.workspace.archiveCalls)

	id, _ := h.cache.Lookup(identity.NamespaceCollections, estuary.PropertiesCollectionTitle)
	assert.Equal(t, "props-db", id)
}

func TestSyncTrackingPlans_CreateFailurePropagates(t *testing.T) {
	h := seedPlanHarness(t, identity.Entries{})
	h.catalog.plans = []models.TrackingPlan{{ID: "tp1", Name: "Web"}}
	h.workspace.createPlanErr = &remote.RequestError{Method: "POST", URL: "v1/databases", StatusCode: 400, Body: "validation_error"}

	_, err := h.service.SyncTrackingPlans(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrRemoteRequest)
}

func TestSyncAll(t *testing.T) {
	h := newHarness(t, Options{})
	h.catalog.properties = propertiesNamed("email", "plan")
	h.catalog.plans = []models.TrackingPlan{{ID: "tp1", Name: "Web"}}
	h.catalog.addEvent("tp1", models.Event{ID: "ev1", Name: "Signed Up"}, "email", "plan")

	report, err := h.service.SyncAll(context.Background(), PropertySyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, report.RunID, report.Properties.RunID)
	assert.Equal(t, report.RunID, report.Plans.RunID)
	assert.Equal(t, 2, report.Properties.Created)

	plan, _ := report.Plans.Plan("Web")
	require.Len(t, plan.Events, 1)
	assert.Len(t, plan.Events[0].ReferencedIDs, 2)

	counts := report.Counts()
	assert.Equal(t, 2, counts["properties_created"])
	assert.Equal(t, 1, counts["created"])

	published := h.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, PhaseAll, published[0].Phase)
	assert.Equal(t, events.StatusSucceeded, published[0].Status)
	assert.Equal(t, report.RunID, published[0].RunID)
}

func TestSync_RunGuard(t *testing.T) {
	h := newHarness(t, Options{})
	h.workspace.entered = make(chan struct{})
	h.workspace.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{})
		done <- err
	}()

	<-h.workspace.entered
	_, err := h.service.SyncTrackingPlans(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)
	_, err = h.service.SyncAll(context.Background(), PropertySyncOptions{})
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(h.workspace.release)
	require.NoError(t, <-done)

	h.workspace.entered = nil
	_, err = h.service.SyncProperties(context.Background(), PropertySyncOptions{})
	assert.NoError(t, err)
}

func TestSync_CancelledContext(t *testing.T) {
	h := newHarness(t, Options{})
	h.catalog.properties = propertiesNamed("email")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.service.SyncProperties(ctx, PropertySyncOptions{})
	// the fake workspace ignores ctx; the loop checks it before each record
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSync_RunTimeout(t *testing.T) {
	h := newHarness(t, Options{RunTimeout: time.Nanosecond})
	h.catalog.properties = propertiesNamed("email")

	_, err := h.service.SyncProperties(context.Background(), PropertySyncOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSync_LogsSkips(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := seedPlanHarness(t, identity.Entries{})
	h.catalog.plans = []models.TrackingPlan{{ID: "tp1", Name: "Web"}}
	h.catalog.addEvent("tp1", models.Event{ID: "ev1", Name: "Page Viewed"})

	service, err := NewService(h.cache, h.catalog, h.workspace, Options{Logger: logger})
	require.NoError(t, err)
	_, err = service.SyncTrackingPlans(context.Background())
	require.NoError(t, err)

	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "No properties found for event, skipping" {
			found = true
			assert.Equal(t, "Page Viewed", entry.Data["event"])
		}
	}
	assert.True(t, found)
}
