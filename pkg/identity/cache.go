package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// CorruptionPolicy decides what Open does with a namespace that cannot be decoded
type CorruptionPolicy string

const (
	// CorruptionReset treats a corrupt namespace as empty after quarantining it
	CorruptionReset CorruptionPolicy = "reset"

	// CorruptionFail makes Open return the decode error
	CorruptionFail CorruptionPolicy = "fail"
)

// Options configures a Cache
type Options struct {
	OnCorrupt CorruptionPolicy
	Logger    *logrus.Logger
}

// Cache maps logical names to destination ids across runs.
// Every mutation persists its whole namespace before returning.
type Cache struct {
	backend    Backend
	logger     *logrus.Logger
	mutex      sync.RWMutex
	namespaces map[Namespace]Entries
}

// Open loads every namespace from backend. Missing namespaces start empty.
func Open(ctx context.Context, backend Backend, opts Options) (*Cache, error) {
	if backend == nil {
		return nil, fmt.Errorf("identity backend is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.OnCorrupt == "" {
		opts.OnCorrupt = CorruptionReset
	}

	cache := &Cache{
		backend:    backend,
		logger:     opts.Logger,
		namespaces: make(map[Namespace]Entries, len(Namespaces())),
	}

	for _, ns := range Namespaces() {
		entries, err := backend.Load(ctx, ns)
		switch {
		case err == nil:
		case errors.Is(err, ErrStoreNotFound):
			entries = Entries{}
		case errors.Is(err, ErrStoreCorrupted) && opts.OnCorrupt == CorruptionReset:
			entries = Entries{}
			fields := logrus.Fields{
				"backend":   backend.Name(),
				"namespace": ns,
				"error":     err,
			}
			if q, ok := backend.(Quarantiner); ok {
				moved, qerr := q.Quarantine(ctx, ns)
				if qerr != nil {
					fields["quarantine_error"] = qerr
				} else {
					fields["quarantined_to"] = moved
				}
			}
			cache.logger.WithFields(fields).Error("Identity store is corrupted, starting namespace empty")
		default:
			return nil, fmt.Errorf("failed to load namespace %s from %s: %w", ns, backend.Name(), err)
		}
		if entries == nil {
			entries = Entries{}
		}
		cache.namespaces[ns] = entries
	}

	cache.logger.WithFields(logrus.Fields{
		"backend":     backend.Name(),
		"properties":  len(cache.namespaces[NamespaceProperties]),
		"collections": len(cache.namespaces[NamespaceCollections]),
	}).Info("Opened identity cache")

	return cache, nil
}

// Backend returns the persistence port the cache writes through
func (c *Cache) Backend() Backend {
	return c.backend
}

// Lookup returns the live id for name. Archived and unknown names report false.
func (c *Cache) Lookup(ns Namespace, name string) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	id, ok := c.namespaces[ns][name]
	if !ok || id == nil {
		return "", false
	}
	return *id, true
}

// State returns the lifecycle state of name
func (c *Cache) State(ns Namespace, name string) EntryState {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	id, ok := c.namespaces[ns][name]
	switch {
	case !ok:
		return StateUnknown
	case id == nil:
		return StateArchived
	default:
		return StateLive
	}
}

// Set stores id (nil for archived) under name and persists the namespace.
// On a persistence failure the previous value is restored.
func (c *Cache) Set(ctx context.Context, ns Namespace, name string, id *string) error {
	if !ns.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}
	if name == "" {
		return ErrEmptyName
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	entries := c.namespaces[ns]
	previous, existed := entries[name]

	if id != nil {
		v := *id
		id = &v
	}
	entries[name] = id

	if err := c.backend.Save(ctx, ns, entries.Clone()); err != nil {
		if existed {
			entries[name] = previous
		} else {
			delete(entries, name)
		}
		return fmt.Errorf("failed to persist %s/%s: %w", ns, name, err)
	}

	c.logger.WithFields(logrus.Fields{
		"namespace": ns,
		"name":      name,
		"archived":  id == nil,
	}).Debug("Persisted identity entry")

	return nil
}

// Put records a live id for name
func (c *Cache) Put(ctx context.Context, ns Namespace, name, id string) error {
	return c.Set(ctx, ns, name, &id)
}

// MarkArchived records that name was synced before and is now archived
func (c *Cache) MarkArchived(ctx context.Context, ns Namespace, name string) error {
	return c.Set(ctx, ns, name, nil)
}

// Reset empties a namespace and persists it
func (c *Cache) Reset(ctx context.Context, ns Namespace) error {
	if !ns.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.backend.Save(ctx, ns, Entries{}); err != nil {
		return fmt.Errorf("failed to reset %s: %w", ns, err)
	}
	c.namespaces[ns] = Entries{}

	c.logger.WithField("namespace", ns).Info("Reset identity namespace")
	return nil
}

// Snapshot returns a copy of a namespace
func (c *Cache) Snapshot(ns Namespace) Entries {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.namespaces[ns].Clone()
}

// Names returns the sorted names recorded in a namespace, archived ones included
func (c *Cache) Names(ns Namespace) []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return sortedNames(c.namespaces[ns])
}

// Len returns the number of entries in a namespace
func (c *Cache) Len(ns Namespace) int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.namespaces[ns])
}

// HealthCheck delegates to the backend
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.backend.HealthCheck(ctx)
}

// Close closes the backend
func (c *Cache) Close() error {
	return c.backend.Close()
}
