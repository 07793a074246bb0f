package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const defaultKVTable = "kv_store"

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// EntryModel is the single table backing the postgres store.
type EntryModel struct {
	Key       string         `gorm:"primaryKey;type:text"`
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db    *gorm.DB
	table string
}

// NewGormStore opens the DB and migrates the kv table.
func NewGormStore(dsn, table string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return newGormStore(db, table)
}

func newGormStore(db *gorm.DB, table string) (*GormStore, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		table = defaultKVTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("kv: invalid table name %q", table)
	}
	if err := db.Table(table).AutoMigrate(&EntryModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db, table: table}, nil
}

func (s *GormStore) scoped(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// Get reads key.
func (s *GormStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	var m EntryModel
	err := s.scoped(ctx).Where("key = ?", key).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv: select: %w", err)
	}
	return json.RawMessage(m.Value), true, nil
}

// Set upserts key.
func (s *GormStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	return upsertEntry(s.scoped(ctx), key, value)
}

// Del removes key.
func (s *GormStore) Del(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := s.scoped(ctx).Where("key = ?", key).Delete(&EntryModel{}).Error; err != nil {
		return fmt.Errorf("kv: delete: %w", err)
	}
	return nil
}

// GetByPrefix runs a LIKE query served by the primary key index.
func (s *GormStore) GetByPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	if prefix == "" {
		return nil, ErrEmptyPrefix
	}
	var rows []EntryModel
	if err := s.scoped(ctx).Where("key LIKE ?", escapeLike(prefix)+"%").Order("key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("kv: scan: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, Entry{Key: row.Key, Value: json.RawMessage(row.Value)})
	}
	return out, nil
}

// Update locks the row with SELECT ... FOR UPDATE. When the key is absent
// the insert races are resolved by ON CONFLICT DO NOTHING and a retry.
func (s *GormStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := checkKey(key); err != nil {
		return err
	}
	for attempt := 0; attempt < 3; attempt++ {
		retry := false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var m EntryModel
			err := tx.Table(s.table).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("key = ?", key).
				Take(&m).Error
			found := true
			if errors.Is(err, gorm.ErrRecordNotFound) {
				found = false
			} else if err != nil {
				return fmt.Errorf("kv: select for update: %w", err)
			}
			var old json.RawMessage
			if found {
				old = json.RawMessage(m.Value)
			}
			next, err := fn(old, found)
			if err != nil {
				return err
			}
			if err := checkValue(next); err != nil {
				return err
			}
			if found {
				return tx.Table(s.table).Where("key = ?", key).Updates(map[string]any{
					"value":      datatypes.JSON(next),
					"updated_at": time.Now().UTC(),
				}).Error
			}
			res := tx.Table(s.table).Clauses(clause.OnConflict{DoNothing: true}).Create(&EntryModel{
				Key:       key,
				Value:     datatypes.JSON(next),
				UpdatedAt: time.Now().UTC(),
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				retry = true
			}
			return nil
		})
		if errors.Is(err, ErrSkip) {
			return nil
		}
		if err != nil {
			return err
		}
		if !retry {
			return nil
		}
	}
	return ErrConflict
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func upsertEntry(db *gorm.DB, key string, value json.RawMessage) error {
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&EntryModel{
		Key:       key,
		Value:     datatypes.JSON(value),
		UpdatedAt: time.Now().UTC(),
	}).Error
	if err != nil {
		return fmt.Errorf("kv: upsert: %w", err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
