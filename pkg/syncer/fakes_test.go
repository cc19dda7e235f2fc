package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cohenjo/plansync/pkg/models"
	"github.com/cohenjo/plansync/pkg/remote"
)

type fakeRecord struct {
	ID            string
	Name          string
	Description   string
	Type          models.PropertyType
	ReferencedIDs []string
}

type fakeCollection struct {
	ID         string
	Title      string
	References string
	Archived   bool
	Records    []fakeRecord
}

// fakeWorkspace is an in-memory destination workspace
type fakeWorkspace struct {
	mutex       sync.Mutex
	seq         int
	collections map[string]*fakeCollection
	order       []string

	archiveErr        map[string]error
	createPlanErr     error
	createPropsErr    error
	failPropertyAfter int // fail AddPropertyRecord once this many records exist; -1 disables
	getCollectionErr  error
	archiveCalls      []string

	entered chan struct{}
	release chan struct{}
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		collections:       make(map[string]*fakeCollection),
		archiveErr:        make(map[string]error),
		failPropertyAfter: -1,
	}
}

func (w *fakeWorkspace) nextID(prefix string) string {
	w.seq++
	return fmt.Sprintf("%s-%d", prefix, w.seq)
}

func (w *fakeWorkspace) addCollection(title, references string) string {
	id := w.nextID("db")
	w.collections[id] = &fakeCollection{ID: id, Title: title, References: references}
	w.order = append(w.order, id)
	return id
}

func (w *fakeWorkspace) CreatePropertiesCollection(ctx context.Context) (string, error) {
	if w.entered != nil {
		close(w.entered)
		<-w.release
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.createPropsErr != nil {
		return "", w.createPropsErr
	}
	return w.addCollection("Event Properties", ""), nil
}

func (w *fakeWorkspace) CreatePlanCollection(ctx context.Context, title, propertiesCollectionID string) (string, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.createPlanErr != nil {
		return "", w.createPlanErr
	}
	return w.addCollection(title, propertiesCollectionID), nil
}

func (w *fakeWorkspace) ArchiveCollection(ctx context.Context, id string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.archiveCalls = append(w.archiveCalls, id)
	if err := w.archiveErr[id]; err != nil {
		return err
	}
	if c, ok := w.collections[id]; ok {
		c.Archived = true
	}
	return nil
}

func (w *fakeWorkspace) AddPropertyRecord(ctx context.Context, collectionID, name string, propType models.PropertyType, description string) (string, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	c, ok := w.collections[collectionID]
	if !ok {
		return "", &remote.RequestError{Method: "POST", URL: "v1/pages", StatusCode: 404, Body: "no such database"}
	}
	if w.failPropertyAfter >= 0 && len(c.Records) >= w.failPropertyAfter {
		return "", &remote.RequestError{Method: "POST", URL: "v1/pages", StatusCode: 502, Body: "connection reset"}
	}
	id := w.nextID("page")
	c.Records = append(c.Records, fakeRecord{ID: id, Name: name, Description: description, Type: propType})
	return id, nil
}

func (w *fakeWorkspace) AddEventRecord(ctx context.Context, collectionID, name, description string, referencedIDs []string) (string, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	c, ok := w.collections[collectionID]
	if !ok {
		return "", &remote.RequestError{Method: "POST", URL: "v1/pages", StatusCode: 404, Body: "no such database"}
	}
	id := w.nextID("page")
	refs := append([]string(nil), referencedIDs...)
	c.Records = append(c.Records, fakeRecord{ID: id, Name: name, Description: description, ReferencedIDs: refs})
	return id, nil
}

func (w *fakeWorkspace) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.getCollectionErr != nil {
		return nil, w.getCollectionErr
	}
	c, ok := w.collections[id]
	if !ok {
		return nil, &remote.RequestError{Method: "GET", URL: "v1/databases/" + id, StatusCode: 404}
	}
	return &models.Collection{ID: c.ID, Title: c.Title, Archived: c.Archived}, nil
}

// live returns the unarchived collections titled title
func (w *fakeWorkspace) live(title string) []*fakeCollection {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	var out []*fakeCollection
	for _, id := range w.order {
		if c := w.collections[id]; c.Title == title && !c.Archived {
			out = append(out, c)
		}
	}
	return out
}

func (w *fakeWorkspace) collectionsTitled(title string) []*fakeCollection {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	var out []*fakeCollection
	for _, id := range w.order {
		if c := w.collections[id]; c.Title == title {
			out = append(out, c)
		}
	}
	return out
}

func (w *fakeWorkspace) collection(id string) *fakeCollection {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.collections[id]
}

func recordNames(c *fakeCollection) []string {
	names := make([]string, 0, len(c.Records))
	for _, r := range c.Records {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// fakeCatalog serves a fixed source catalog
type fakeCatalog struct {
	mutex      sync.Mutex
	plans      []models.TrackingPlan
	events     map[string][]models.Event
	details    map[string]string
	properties []models.Property

	listPropertiesErr error
	calls             int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		events:  make(map[string][]models.Event),
		details: make(map[string]string),
	}
}

func (c *fakeCatalog) called() {
	c.mutex.Lock()
	c.calls++
	c.mutex.Unlock()
}

func (c *fakeCatalog) ListTrackingPlans(ctx context.Context) ([]models.TrackingPlan, error) {
	c.called()
	return c.plans, nil
}

func (c *fakeCatalog) ListEvents(ctx context.Context, planID string) ([]models.Event, error) {
	c.called()
	return c.events[planID], nil
}

func (c *fakeCatalog) GetEventDetail(ctx context.Context, planID, eventID string) (*models.EventDetail, error) {
	c.called()
	doc, ok := c.details[eventID]
	if !ok {
		return nil, &remote.RequestError{Method: "GET", URL: "catalog/tracking-plans/" + planID + "/events/" + eventID, StatusCode: 404}
	}
	return &models.EventDetail{ID: eventID, Document: []byte(doc)}, nil
}

func (c *fakeCatalog) ListProperties(ctx context.Context) ([]models.Property, error) {
	c.called()
	if c.listPropertiesErr != nil {
		return nil, c.listPropertiesErr
	}
	return c.properties, nil
}

func (c *fakeCatalog) callCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.calls
}

// addEvent registers an event whose detail references propertyNames
func (c *fakeCatalog) addEvent(planID string, event models.Event, propertyNames ...string) {
	c.events[planID] = append(c.events[planID], event)

	props := ""
	for i, name := range propertyNames {
		if i > 0 {
			props += ","
		}
		props += fmt.Sprintf(`%q:{"type":"string"}`, name)
	}
	doc := fmt.Sprintf(`{"id":%q,"name":%q,"description":"from detail","rules":{"properties":{"properties":{"properties":{%s}}}}}`,
		event.ID, event.Name, props)
	if len(propertyNames) == 0 {
		doc = fmt.Sprintf(`{"id":%q,"name":%q,"rules":{}}`, event.ID, event.Name)
	}
	c.details[event.ID] = doc
}
