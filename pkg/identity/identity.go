package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Namespace selects one of the independent name → id maps
type Namespace string

const (
	// NamespaceProperties maps property name → property record id
	NamespaceProperties Namespace = "properties"

	// NamespaceCollections maps collection name → collection id, or null once archived
	NamespaceCollections Namespace = "databases"
)

// Namespaces lists every namespace the cache loads on open
func Namespaces() []Namespace {
	return []Namespace{NamespaceProperties, NamespaceCollections}
}

// Valid reports whether ns is a known namespace
func (ns Namespace) Valid() bool {
	return ns == NamespaceProperties || ns == NamespaceCollections
}

// Entries is one namespace: logical name → destination id, nil meaning archived
type Entries map[string]*string

// Clone returns a deep copy
func (e Entries) Clone() Entries {
	out := make(Entries, len(e))
	for name, id := range e {
		if id == nil {
			out[name] = nil
			continue
		}
		v := *id
		out[name] = &v
	}
	return out
}

// EntryState is the lifecycle state of one logical name
type EntryState int

const (
	StateUnknown EntryState = iota
	StateLive
	StateArchived
)

func (s EntryState) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// Backend persists whole namespaces
type Backend interface {
	// Name identifies the backend in logs and health output
	Name() string

	// Load returns the persisted namespace, ErrStoreNotFound if absent,
	// or an error wrapping ErrStoreCorrupted if it cannot be decoded
	Load(ctx context.Context, ns Namespace) (Entries, error)

	// Save replaces the persisted namespace with entries
	Save(ctx context.Context, ns Namespace, entries Entries) error

	// HealthCheck verifies the backend is reachable and writable
	HealthCheck(ctx context.Context) error

	// Close releases any resources held by the backend
	Close() error
}

// Quarantiner is implemented by backends that can set a corrupt namespace aside
type Quarantiner interface {
	Quarantine(ctx context.Context, ns Namespace) (string, error)
}

// Config holds configuration for the identity cache
type Config struct {
	// Type selects the backend: file, mongodb, sql, cosmosdb or memory
	Type string `json:"type" yaml:"type" mapstructure:"type" validate:"omitempty,oneof=file mongodb mongo sql cosmosdb memory"`

	// OnCorrupt is reset (treat as empty) or fail
	OnCorrupt string `json:"on_corrupt" yaml:"on_corrupt" mapstructure:"on_corrupt" validate:"omitempty,oneof=reset fail"`

	// File backend settings
	File FileConfig `json:"file" yaml:"file" mapstructure:"file"`

	// Mongo backend settings
	Mongo MongoConfig `json:"mongodb" yaml:"mongodb" mapstructure:"mongodb"`

	// SQL backend settings
	SQL SQLConfig `json:"sql" yaml:"sql" mapstructure:"sql"`

	// Cosmos backend settings
	Cosmos CosmosConfig `json:"cosmosdb" yaml:"cosmosdb" mapstructure:"cosmosdb"`

	// Logger is handed to the backend NewBackend builds
	Logger *logrus.Logger `json:"-" yaml:"-" mapstructure:"-"`
}

type loggerSetter interface {
	SetLogger(logger *logrus.Logger)
}

// NewBackend creates the backend selected by config.Type
func NewBackend(ctx context.Context, config *Config) (Backend, error) {
	if config == nil {
		return nil, fmt.Errorf("identity config is required")
	}
	if config.SQL.Logger == nil {
		config.SQL.Logger = config.Logger
	}

	var (
		backend Backend
		err     error
	)
	switch config.Type {
	case "", "file":
		backend, err = NewFileBackend(&config.File)
	case "mongodb", "mongo":
		backend, err = NewMongoBackend(ctx, &config.Mongo)
	case "sql":
		backend, err = NewSQLBackend(ctx, &config.SQL)
	case "cosmosdb":
		backend, err = NewCosmosBackend(ctx, &config.Cosmos)
	case "memory":
		backend = NewMemoryBackend()
	default:
		backend, err = CreateBackend(config.Type, config)
	}
	if err != nil {
		return nil, err
	}
	if setter, ok := backend.(loggerSetter); ok && config.Logger != nil {
		setter.SetLogger(config.Logger)
	}
	return backend, nil
}

// BackendFactory builds a custom backend from its config
type BackendFactory func(config *Config) (Backend, error)

var (
	registryMu      sync.RWMutex
	backendRegistry = make(map[string]BackendFactory)
)

// RegisterBackend registers a custom backend under name
func RegisterBackend(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backendRegistry[name] = factory
}

// CreateBackend builds a backend from the registry
func CreateBackend(name string, config *Config) (Backend, error) {
	registryMu.RLock()
	factory, exists := backendRegistry[name]
	registryMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, name)
	}
	return factory(config)
}

// sortedNames returns the keys of entries in ascending order
func sortedNames(entries Entries) []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func nowUnix() int64 {
	return time.Now().UTC().Unix()
}
