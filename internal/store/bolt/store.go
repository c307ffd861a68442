// Package bolt is the local store: the current session document and the
// legacy local named records, kept in a single BoltDB file.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/store"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	sessionsBucket = "sessions"
	recordsBucket  = "saved_combats"
)

// Store provides a BoltDB-backed local store.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var (
	_ store.StateStore       = (*Store)(nil)
	_ store.LocalRecordStore = (*Store)(nil)
)

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadState returns the raw session document for scope, or store.ErrNotFound.
func (s *Store) LoadState(ctx context.Context, scope string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(scope) == "" {
		return nil, fmt.Errorf("scope is required")
	}

	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(sessionsBucket)).Bucket([]byte(scope))
		if b == nil {
			return store.ErrNotFound
		}
		payload := b.Get([]byte(store.StateKey))
		if payload == nil {
			return store.ErrNotFound
		}
		out = slices.Clone(payload)
		return nil
	})
	return out, err
}

// SaveState overwrites the session document for scope.
func (s *Store) SaveState(ctx context.Context, scope string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(scope) == "" {
		return fmt.Errorf("scope is required")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket([]byte(sessionsBucket)).CreateBucketIfNotExists([]byte(scope))
		if err != nil {
			return fmt.Errorf("create session bucket: %w", err)
		}
		return b.Put([]byte(store.StateKey), data)
	})
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]store.Record, error) {
	if err := checkUser(ctx, userID); err != nil {
		return nil, err
	}

	records := []store.Record{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(recordsBucket)).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec store.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record: %w", err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(records, func(a, b store.Record) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return records, nil
}

func (s *Store) Get(ctx context.Context, id, userID string) (store.Record, error) {
	if err := checkUser(ctx, userID); err != nil {
		return store.Record{}, err
	}

	var rec store.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		rec, err = getRecord(tx.Bucket([]byte(recordsBucket)).Bucket([]byte(userID)), id)
		return err
	})
	return rec, err
}

func (s *Store) Create(ctx context.Context, userID string, in store.NewRecord) (store.Record, error) {
	if err := checkUser(ctx, userID); err != nil {
		return store.Record{}, err
	}

	now := s.now()
	rec := store.Record{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        in.Name,
		Description: in.Description,
		CombatData:  in.CombatData.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket([]byte(recordsBucket)).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return fmt.Errorf("create user bucket: %w", err)
		}
		return putRecord(b, rec)
	})
	if err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, id, userID string, patch store.RecordPatch) (store.Record, error) {
	if err := checkUser(ctx, userID); err != nil {
		return store.Record{}, err
	}

	var rec store.Record
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(recordsBucket)).Bucket([]byte(userID))
		current, err := getRecord(b, id)
		if err != nil {
			return err
		}
		rec = store.ApplyPatch(current, patch)
		rec.UpdatedAt = s.now()
		return putRecord(b, rec)
	})
	if err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id, userID string) (bool, error) {
	if err := checkUser(ctx, userID); err != nil {
		return false, err
	}

	deleted := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(recordsBucket)).Bucket([]byte(userID))
		if b == nil || b.Get([]byte(id)) == nil {
			return nil
		}
		deleted = true
		return b.Delete([]byte(id))
	})
	return deleted, err
}

// MarkMigrated records that the local record was copied to remoteID.
func (s *Store) MarkMigrated(ctx context.Context, id, userID, remoteID string) error {
	if err := checkUser(ctx, userID); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(recordsBucket)).Bucket([]byte(userID))
		rec, err := getRecord(b, id)
		if err != nil {
			return err
		}
		rec.MigratedTo = remoteID
		return putRecord(b, rec)
	})
}

// ClearUser drops every local record of userID.
func (s *Store) ClearUser(ctx context.Context, userID string) error {
	if err := checkUser(ctx, userID); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket([]byte(recordsBucket))
		if parent.Bucket([]byte(userID)) == nil {
			return nil
		}
		return parent.DeleteBucket([]byte(userID))
	})
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{sessionsBucket, recordsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func getRecord(b *bbolt.Bucket, id string) (store.Record, error) {
	if b == nil {
		return store.Record{}, store.ErrNotFound
	}
	payload := b.Get([]byte(id))
	if payload == nil {
		return store.Record{}, store.ErrNotFound
	}
	var rec store.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return store.Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

func putRecord(b *bbolt.Bucket, rec store.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return b.Put([]byte(rec.ID), payload)
}

func checkUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	return nil
}
