package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// MongoConfig holds MongoDB-specific configuration for identity storage
type MongoConfig struct {
	// URI for the MongoDB connection
	URI string `json:"uri" yaml:"uri" mapstructure:"uri"`

	// Database name for storing namespaces
	Database string `json:"database" yaml:"database" mapstructure:"database"`

	// Collection name for storing namespaces
	Collection string `json:"collection" yaml:"collection" mapstructure:"collection"`

	// ConnectTimeout for the initial connection
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// OperationTimeout bounds each load or save
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout" mapstructure:"operation_timeout"`

	// MaxPoolSize for the connection pool
	MaxPoolSize uint64 `json:"max_pool_size" yaml:"max_pool_size" mapstructure:"max_pool_size"`
}

// mongoEntry is one name → id pair. Names are stored as values so that
// dots and dollar signs in property names never become field paths.
type mongoEntry struct {
	Name string  `bson:"name"`
	ID   *string `bson:"id"`
}

// mongoNamespaceDocument holds one whole namespace, keyed by its name
type mongoNamespaceDocument struct {
	ID        string       `bson:"_id"`
	Entries   []mongoEntry `bson:"entries"`
	UpdatedAt time.Time    `bson:"updated_at"`
}

// MongoBackend stores each namespace as one document
type MongoBackend struct {
	client     *mongo.Client
	collection *mongo.Collection
	config     *MongoConfig
	logger     *logrus.Logger
	closed     bool
}

// NewMongoBackend connects to MongoDB and verifies the connection
func NewMongoBackend(ctx context.Context, config *MongoConfig) (*MongoBackend, error) {
	if config == nil {
		return nil, fmt.Errorf("mongo config is required")
	}
	if config.URI == "" {
		return nil, fmt.Errorf("connection URI is required")
	}
	if config.Database == "" {
		config.Database = "plansync"
	}
	if config.Collection == "" {
		config.Collection = "identity_cache"
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.OperationTimeout == 0 {
		config.OperationTimeout = 10 * time.Second
	}
	if config.MaxPoolSize == 0 {
		config.MaxPoolSize = 10
	}

	clientOpts := options.Client().
		ApplyURI(config.URI).
		SetConnectTimeout(config.ConnectTimeout).
		SetServerSelectionTimeout(config.ConnectTimeout).
		SetMaxPoolSize(config.MaxPoolSize).
		SetReadConcern(readconcern.Majority()).
		SetWriteConcern(writeconcern.Majority())

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	backend := &MongoBackend{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
		config:     config,
		logger:     logrus.New(),
	}

	backend.logger.WithFields(logrus.Fields{
		"database":   config.Database,
		"collection": config.Collection,
	}).Info("Connected MongoDB identity backend")

	return backend, nil
}

// SetLogger replaces the backend logger
func (mb *MongoBackend) SetLogger(logger *logrus.Logger) {
	if logger != nil {
		mb.logger = logger
	}
}

func (mb *MongoBackend) Name() string { return "mongodb" }

// Load reads the namespace document
func (mb *MongoBackend) Load(ctx context.Context, ns Namespace) (Entries, error) {
	if mb.closed {
		return nil, ErrBackendClosed
	}

	ctx, cancel := context.WithTimeout(ctx, mb.config.OperationTimeout)
	defer cancel()

	var doc mongoNamespaceDocument
	err := mb.collection.FindOne(ctx, bson.M{"_id": string(ns)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrStoreNotFound
		}
		return nil, fmt.Errorf("failed to load namespace %s: %w", ns, err)
	}

	entries := make(Entries, len(doc.Entries))
	for _, entry := range doc.Entries {
		if entry.Name == "" {
			return nil, fmt.Errorf("%w: namespace %s has an entry without a name", ErrStoreCorrupted, ns)
		}
		entries[entry.Name] = entry.ID
	}
	return entries, nil
}

// Save replaces the namespace document
func (mb *MongoBackend) Save(ctx context.Context, ns Namespace, entries Entries) error {
	if mb.closed {
		return ErrBackendClosed
	}

	ctx, cancel := context.WithTimeout(ctx, mb.config.OperationTimeout)
	defer cancel()

	doc := mongoNamespaceDocument{
		ID:        string(ns),
		Entries:   make([]mongoEntry, 0, len(entries)),
		UpdatedAt: time.Now().UTC(),
	}
	for _, name := range sortedNames(entries) {
		doc.Entries = append(doc.Entries, mongoEntry{Name: name, ID: entries[name]})
	}

	_, err := mb.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save namespace %s: %w", ns, err)
	}

	mb.logger.WithFields(logrus.Fields{
		"namespace": ns,
		"entries":   len(entries),
	}).Debug("Saved identity namespace to MongoDB")
	return nil
}

// HealthCheck pings the primary
func (mb *MongoBackend) HealthCheck(ctx context.Context) error {
	if mb.closed {
		return ErrBackendClosed
	}
	ctx, cancel := context.WithTimeout(ctx, mb.config.OperationTimeout)
	defer cancel()
	if err := mb.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("MongoDB ping failed: %w", err)
	}
	return nil
}

// Close disconnects the client
func (mb *MongoBackend) Close() error {
	if mb.closed {
		return nil
	}
	mb.closed = true
	ctx, cancel := context.WithTimeout(context.Background(), mb.config.ConnectTimeout)
	defer cancel()
	return mb.client.Disconnect(ctx)
}
