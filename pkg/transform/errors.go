package transform

import "errors"

// Shaping error definitions
var (
	ErrInvalidSpec       = errors.New("invalid shaping spec")
	ErrInvalidInput      = errors.New("invalid input document")
	ErrTransformFailed   = errors.New("transformation failed")
	ErrUnexpectedShape   = errors.New("unexpected shape after transformation")
	ErrOperationRequired = errors.New("at least one operation is required")
)
