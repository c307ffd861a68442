// Package store defines the persistence contracts shared by the local and
// remote backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// StateKey is the key the current session is stored under.
const StateKey = "combatState"

// Record is a named snapshot owned by one user.
type Record struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	CombatData  engine.Snapshot `json:"combat_data"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// MigratedTo holds the remote id once a local record has been copied.
	MigratedTo string `json:"migrated_to,omitempty"`
}

type NewRecord struct {
	Name        string
	Description string
	CombatData  engine.Snapshot
}

// RecordPatch is a partial update. An empty Name is ignored; an empty
// Description clears it.
type RecordPatch struct {
	Name        *string
	Description *string
	CombatData  *engine.Snapshot
}

// StateStore holds the single current-session document per scope.
type StateStore interface {
	LoadState(ctx context.Context, scope string) ([]byte, error)
	SaveState(ctx context.Context, scope string, data []byte) error
}

// RecordStore is a set of named records scoped by owning user id.
type RecordStore interface {
	ListByUser(ctx context.Context, userID string) ([]Record, error)
	Get(ctx context.Context, id, userID string) (Record, error)
	Create(ctx context.Context, userID string, rec NewRecord) (Record, error)
	Update(ctx context.Context, id, userID string, patch RecordPatch) (Record, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
}

// LocalRecordStore is a RecordStore that can act as a migration source.
type LocalRecordStore interface {
	RecordStore
	MarkMigrated(ctx context.Context, id, userID, remoteID string) error
	ClearUser(ctx context.Context, userID string) error
}

// ApplyPatch merges patch into rec the same way every backend does.
func ApplyPatch(rec Record, patch RecordPatch) Record {
	if patch.Name != nil && *patch.Name != "" {
		rec.Name = *patch.Name
	}
	if patch.Description != nil {
		rec.Description = *patch.Description
	}
	if patch.CombatData != nil {
		rec.CombatData = patch.CombatData.Clone()
	}
	return rec
}
