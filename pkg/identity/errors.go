package identity

import "errors"

// Common errors for the identity cache
var (
	// ErrStoreNotFound indicates the namespace has never been persisted
	ErrStoreNotFound = errors.New("identity store not found")

	// ErrStoreCorrupted indicates the persisted namespace could not be decoded
	ErrStoreCorrupted = errors.New("identity store corrupted")

	// ErrUnknownNamespace indicates a namespace outside the fixed set
	ErrUnknownNamespace = errors.New("unknown identity namespace")

	// ErrUnsupportedBackend indicates an unknown cache.type
	ErrUnsupportedBackend = errors.New("unsupported identity backend")

	// ErrBackendClosed indicates the backend has been closed
	ErrBackendClosed = errors.New("identity backend is closed")

	// ErrEmptyName indicates a mutation without a logical name
	ErrEmptyName = errors.New("logical name is required")
)
