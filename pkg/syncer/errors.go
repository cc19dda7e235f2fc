package syncer

import (
	"errors"
	"fmt"
)

var (
	// ErrSyncInProgress is returned when a run is requested while another is active
	ErrSyncInProgress = errors.New("a sync run is already in progress")

	// ErrPrerequisiteMissing classifies every *PrerequisiteMissingError
	ErrPrerequisiteMissing = errors.New("prerequisite missing")
)

// PrerequisiteMissingError reports that plans cannot be synced because
// the collection they reference has never been created.
type PrerequisiteMissingError struct {
	Collection string
}

func (e *PrerequisiteMissingError) Error() string {
	return fmt.Sprintf("prerequisite missing: collection %q has not been synced, run the property sync first", e.Collection)
}

func (e *PrerequisiteMissingError) Is(target error) bool {
	return target == ErrPrerequisiteMissing
}
