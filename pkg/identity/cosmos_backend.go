package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/pquerna/ffjson/ffjson"
	"github.com/sirupsen/logrus"
)

// CosmosConfig holds Azure Cosmos DB configuration for identity storage.
// Either ConnectionString or Endpoint (with a default Azure credential) is required.
type CosmosConfig struct {
	// Endpoint of the account, e.g. https://<account>.documents.azure.com:443/
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`

	// ConnectionString takes precedence over Endpoint when set
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty" mapstructure:"connection_string"`

	// Database name
	Database string `json:"database" yaml:"database" mapstructure:"database"`

	// Container name; its partition key path must be /namespace
	Container string `json:"container" yaml:"container" mapstructure:"container"`

	// OperationTimeout bounds each load or save
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout" mapstructure:"operation_timeout"`
}

type cosmosEntry struct {
	Name string  `json:"name"`
	ID   *string `json:"id"`
}

type cosmosNamespaceItem struct {
	ID        string        `json:"id"`
	Namespace string        `json:"namespace"`
	Entries   []cosmosEntry `json:"entries"`
	UpdatedAt int64         `json:"updated_at"`
}

// CosmosBackend stores each namespace as one item partitioned by namespace
type CosmosBackend struct {
	client    *azcosmos.Client
	container *azcosmos.ContainerClient
	config    *CosmosConfig
	logger    *logrus.Logger
	closed    bool
}

// NewCosmosBackend creates a Cosmos DB backend and verifies the container is reachable
func NewCosmosBackend(ctx context.Context, config *CosmosConfig) (*CosmosBackend, error) {
	if config == nil {
		return nil, fmt.Errorf("cosmos config is required")
	}
	if config.ConnectionString == "" && config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint or connection string is required")
	}
	if config.Database == "" {
		config.Database = "plansync"
	}
	if config.Container == "" {
		config.Container = "identity_cache"
	}
	if config.OperationTimeout == 0 {
		config.OperationTimeout = 10 * time.Second
	}

	var (
		client *azcosmos.Client
		err    error
	)
	clientOptions := &azcosmos.ClientOptions{}
	if config.ConnectionString != "" {
		client, err = azcosmos.NewClientFromConnectionString(config.ConnectionString, clientOptions)
	} else {
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure credential: %w", err)
		}
		client, err = azcosmos.NewClient(config.Endpoint, cred, clientOptions)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Cosmos DB client: %w", err)
	}

	container, err := client.NewContainer(config.Database, config.Container)
	if err != nil {
		return nil, fmt.Errorf("failed to get container %s/%s: %w", config.Database, config.Container, err)
	}

	backend := &CosmosBackend{
		client:    client,
		container: container,
		config:    config,
		logger:    logrus.New(),
	}

	if err := backend.HealthCheck(ctx); err != nil {
		return nil, err
	}

	backend.logger.WithFields(logrus.Fields{
		"database":  config.Database,
		"container": config.Container,
	}).Info("Connected Cosmos DB identity backend")

	return backend, nil
}

// SetLogger replaces the backend logger
func (cb *CosmosBackend) SetLogger(logger *logrus.Logger) {
	if logger != nil {
		cb.logger = logger
	}
}

func (cb *CosmosBackend) Name() string { return "cosmosdb" }

// Load reads the namespace item
func (cb *CosmosBackend) Load(ctx context.Context, ns Namespace) (Entries, error) {
	if cb.closed {
		return nil, ErrBackendClosed
	}

	ctx, cancel := context.WithTimeout(ctx, cb.config.OperationTimeout)
	defer cancel()

	resp, err := cb.container.ReadItem(ctx, azcosmos.NewPartitionKeyString(string(ns)), string(ns), nil)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrStoreNotFound
		}
		return nil, fmt.Errorf("failed to read namespace %s: %w", ns, err)
	}

	var item cosmosNamespaceItem
	if err := ffjson.Unmarshal(resp.Value, &item); err != nil {
		return nil, fmt.Errorf("%w: namespace %s: %v", ErrStoreCorrupted, ns, err)
	}

	entries := make(Entries, len(item.Entries))
	for _, entry := range item.Entries {
		if entry.Name == "" {
			return nil, fmt.Errorf("%w: namespace %s has an entry without a name", ErrStoreCorrupted, ns)
		}
		entries[entry.Name] = entry.ID
	}
	return entries, nil
}

// Save upserts the namespace item
func (cb *CosmosBackend) Save(ctx context.Context, ns Namespace, entries Entries) error {
	if cb.closed {
		return ErrBackendClosed
	}

	ctx, cancel := context.WithTimeout(ctx, cb.config.OperationTimeout)
	defer cancel()

	item := cosmosNamespaceItem{
		ID:        string(ns),
		Namespace: string(ns),
		Entries:   make([]cosmosEntry, 0, len(entries)),
		UpdatedAt: nowUnix(),
	}
	for _, name := range sortedNames(entries) {
		item.Entries = append(item.Entries, cosmosEntry{Name: name, ID: entries[name]})
	}

	data, err := ffjson.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal namespace %s: %w", ns, err)
	}

	if _, err := cb.container.UpsertItem(ctx, azcosmos.NewPartitionKeyString(string(ns)), data, nil); err != nil {
		return fmt.Errorf("failed to upsert namespace %s: %w", ns, err)
	}

	cb.logger.WithFields(logrus.Fields{
		"namespace": ns,
		"entries":   len(entries),
	}).Debug("Saved identity namespace to Cosmos DB")
	return nil
}

// HealthCheck reads the container properties
func (cb *CosmosBackend) HealthCheck(ctx context.Context) error {
	if cb.closed {
		return ErrBackendClosed
	}
	ctx, cancel := context.WithTimeout(ctx, cb.config.OperationTimeout)
	defer cancel()
	if _, err := cb.container.Read(ctx, nil); err != nil {
		return fmt.Errorf("cosmos container %s/%s unavailable: %w", cb.config.Database, cb.config.Container, err)
	}
	return nil
}

// Close releases the backend; the SDK client holds no connections to close
func (cb *CosmosBackend) Close() error {
	cb.closed = true
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
