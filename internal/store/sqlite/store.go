// Package sqlite is a single-node record store for saved combats.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
	"github.com/DoyleJ11/combat-tracker/internal/store"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS saved_combats (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	combat_data TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_saved_combats_user ON saved_combats (user_id, updated_at DESC);
`

const selectColumns = `SELECT id, user_id, name, description, combat_data, created_at, updated_at FROM saved_combats`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store provides SQLite-backed persistence for saved combats.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ store.RecordStore = (*Store)(nil)

// Open opens a SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]store.Record, error) {
	rows, err := s.sqlDB.QueryContext(ctx, selectColumns+` WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list saved combats: %w", err)
	}
	defer rows.Close()

	records := []store.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list saved combats: %w", err)
	}
	return records, nil
}

func (s *Store) Get(ctx context.Context, id, userID string) (store.Record, error) {
	row := s.sqlDB.QueryRowContext(ctx, selectColumns+` WHERE id = ? AND user_id = ?`, id, userID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	return rec, err
}

func (s *Store) Create(ctx context.Context, userID string, in store.NewRecord) (store.Record, error) {
	now := s.now().UTC()
	rec := store.Record{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        in.Name,
		Description: in.Description,
		CombatData:  in.CombatData.Clone(),
		CreatedAt:   fromMillis(toMillis(now)),
		UpdatedAt:   fromMillis(toMillis(now)),
	}
	data, err := encodeSnapshot(rec.CombatData)
	if err != nil {
		return store.Record{}, err
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO saved_combats (id, user_id, name, description, combat_data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Name, rec.Description, data, toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt),
	)
	if err != nil {
		return store.Record{}, fmt.Errorf("insert saved combat: %w", err)
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, id, userID string, patch store.RecordPatch) (store.Record, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return store.Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanRecord(tx.QueryRowContext(ctx, selectColumns+` WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}

	rec := store.ApplyPatch(current, patch)
	rec.UpdatedAt = fromMillis(toMillis(s.now()))
	data, err := encodeSnapshot(rec.CombatData)
	if err != nil {
		return store.Record{}, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE saved_combats SET name = ?, description = ?, combat_data = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		rec.Name, rec.Description, data, toMillis(rec.UpdatedAt), id, userID,
	)
	if err != nil {
		return store.Record{}, fmt.Errorf("update saved combat: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return store.Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id, userID string) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM saved_combats WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete saved combat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete saved combat: %w", err)
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (store.Record, error) {
	var (
		rec       store.Record
		data      string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.Description, &data, &createdAt, &updatedAt); err != nil {
		return store.Record{}, err
	}
	if err := json.Unmarshal([]byte(data), &rec.CombatData); err != nil {
		return store.Record{}, fmt.Errorf("unmarshal combat data: %w", err)
	}
	rec.CombatData = rec.CombatData.Normalize()
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

func encodeSnapshot(snap engine.Snapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal combat data: %w", err)
	}
	return string(data), nil
}
