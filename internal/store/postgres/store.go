// Package postgres is the remote record store for saved combats.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
	"github.com/DoyleJ11/combat-tracker/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type savedCombat struct {
	ID          string          `gorm:"primaryKey;type:uuid"`
	UserID      string          `gorm:"index;not null"`
	Name        string          `gorm:"not null"`
	Description string          `gorm:"not null;default:''"`
	CombatData  engine.Snapshot `gorm:"type:jsonb;serializer:json;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time `gorm:"index"`
}

func (savedCombat) TableName() string { return "saved_combats" }

func (m savedCombat) toRecord() store.Record {
	return store.Record{
		ID:          m.ID,
		UserID:      m.UserID,
		Name:        m.Name,
		Description: m.Description,
		CombatData:  m.CombatData.Normalize(),
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

type Store struct {
	db *gorm.DB
}

var _ store.RecordStore = (*Store)(nil)

// Open connects through pgx, hands the pool to gorm and migrates the table.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	sqlDB := stdlib.OpenDB(*cfg)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db, err := gorm.Open(pgdriver.New(pgdriver.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&savedCombat{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate saved_combats: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]store.Record, error) {
	var rows []savedCombat
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list saved combats: %w", err)
	}

	records := make([]store.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

func (s *Store) Get(ctx context.Context, id, userID string) (store.Record, error) {
	var row savedCombat
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("get saved combat: %w", err)
	}
	return row.toRecord(), nil
}

func (s *Store) Create(ctx context.Context, userID string, in store.NewRecord) (store.Record, error) {
	row := savedCombat{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        in.Name,
		Description: in.Description,
		CombatData:  in.CombatData.Clone(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return store.Record{}, fmt.Errorf("insert saved combat: %w", err)
	}
	return row.toRecord(), nil
}

func (s *Store) Update(ctx context.Context, id, userID string, patch store.RecordPatch) (store.Record, error) {
	var out store.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row savedCombat
		err := tx.Where("id = ? AND user_id = ?", id, userID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		rec := store.ApplyPatch(row.toRecord(), patch)
		row.Name = rec.Name
		row.Description = rec.Description
		row.CombatData = rec.CombatData
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = row.toRecord()
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.Record{}, err
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("update saved combat: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id, userID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&savedCombat{})
	if res.Error != nil {
		return false, fmt.Errorf("delete saved combat: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
