package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

type kvModel struct {
	bun.BaseModel `bun:"table:kv"`

	Name  string `bun:"name,pk"`
	Value string `bun:"value,notnull"`
}

// SQLiteStore keeps keys in a SQLite table through bun.
type SQLiteStore struct {
	db     *bun.DB
	logger *slog.Logger
}

// OpenSQLiteStore opens (or creates) the database at path and ensures the
// kv table exists. ":memory:" gives a private in-memory database.
func OpenSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	db := bun.NewDB(sqlDB, sqlitedialect.New())
	if _, err := db.NewCreateTable().Model((*kvModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With(slog.String("component", "sqlite_store")),
	}
	s.logger.Debug("sqlite store opened", slog.String("path", path))
	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var row kvModel
	err := s.db.NewSelect().Model(&row).Where("name = ?", key).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return row.Value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	row := &kvModel{Name: key, Value: value}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (name) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().Model((*kvModel)(nil)).Where("name = ?", key).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
