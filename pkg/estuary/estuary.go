package estuary

// estuary means "mouth of river"
// Noun, the tidal mouth of a large river, where the tide meets the stream

// the catalog flows out here: collections and records in the destination workspace.

import (
	"context"

	"github.com/cohenjo/plansync/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PropertiesCollectionTitle is the fixed title of the properties collection
const PropertiesCollectionTitle = "Event Properties"

// Workspace creates and archives collections and records in the destination.
// Calls are not idempotent: repeating one creates a duplicate.
type Workspace interface {
	// CreatePropertiesCollection creates the fixed-schema properties collection
	CreatePropertiesCollection(ctx context.Context) (string, error)

	// CreatePlanCollection creates a collection for one tracking plan's events,
	// with a relation field targeting the properties collection
	CreatePlanCollection(ctx context.Context, title, propertiesCollectionID string) (string, error)

	// ArchiveCollection marks a collection inactive
	ArchiveCollection(ctx context.Context, id string) error

	// AddPropertyRecord creates one property record
	AddPropertyRecord(ctx context.Context, collectionID, name string, propType models.PropertyType, description string) (string, error)

	// AddEventRecord creates one event record related to the given property records, in order
	AddEventRecord(ctx context.Context, collectionID, name, description string, referencedIDs []string) (string, error)

	// GetCollection reads a collection
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
}

var (
	destinationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plansync_destination_requests_total",
		Help: "The total number of destination workspace requests",
	}, []string{"operation", "outcome"})
)

func observe(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	destinationRequests.WithLabelValues(operation, outcome).Inc()
}
