// Package storetest opens throwaway stores for tests in other packages.
package storetest

import (
	"path/filepath"
	"testing"
	"time"

	"courier-backend/internal/database"
	"courier-backend/internal/store"
	"courier-backend/internal/store/gormstore"
	"courier-backend/internal/store/memstore"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLite returns a gorm store on a fresh SQLite file with the full schema
// migrated. SQLite has no row locks, so the pool is capped at one connection
// and transactions run one after another.
func SQLite(t testing.TB) *gormstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "courier.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormstore.New(db)
}

// Each runs fn once against the in-memory store and once against SQLite.
func Each(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, memstore.New()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, SQLite(t)) })
}
