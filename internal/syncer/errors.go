package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/combat-tracker/internal/store"
)

var (
	ErrClientKeyRequired  = errors.New("client key is required for local records")
	ErrImportFormat       = errors.New("import: missing combatants list")
	ErrMigrationPartial   = errors.New("migration incomplete")
	ErrNameRequired       = errors.New("combat name is required")
	ErrRemoteUnavailable  = errors.New("remote store is not configured")
	ErrStorageUnavailable = store.ErrStorageUnavailable
)

// MigrationError reports the records that could not be copied. The local
// copies are kept so the migration can be retried.
type MigrationError struct {
	Failed int
	Err    error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("%s: %d record(s) failed: %v", ErrMigrationPartial, e.Failed, e.Err)
}

func (e *MigrationError) Unwrap() []error {
	return []error{ErrMigrationPartial, e.Err}
}

// classify maps backend failures onto the storage taxonomy. Not-found and
// cancellation pass through unchanged.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
	}
}
