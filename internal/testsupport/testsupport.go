package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"visitlens/internal"
	"visitlens/internal/config"
	"visitlens/internal/database"
	"visitlens/internal/events"
	"visitlens/internal/visits"
)

// testDBCache caches test databases by root test name so helpers called from
// subtests share the parent's database.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a named in-memory database with every model migrated.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tables []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tables)

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
		}
		return nil
	})
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// TestConfig returns the shared configuration switched to the test
// environment with exports written under a temp dir.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.GetConfig()
	cfg.Environment = config.Test
	cfg.AdminAPIKeyHash = ""
	cfg.ClickHouseAddr = ""
	cfg.SMTPHost = ""
	cfg.AlertWebhookURL = ""
	cfg.HeatmapEnabled = true
	cfg.HeatmapSampleRate = 1.0
	cfg.ExportsDirectory = t.TempDir()
	return cfg
}

// CreateMinimalTestApp creates a test Fiber app with all routes mounted.
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	appConfig := TestConfig(t)

	cfg := internal.NewServerConfig(appConfig)
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = NewTestDBManager(db)

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}

// PageView builds a stored page_view event.
func PageView(sessionID, identityHash, path string, at time.Time) events.Event {
	return events.Event{
		SessionID:        sessionID,
		IdentityHash:     identityHash,
		EventType:        string(events.EventTypePageView),
		PagePath:         path,
		Device:           "desktop",
		Browser:          "chrome",
		ReferrerCategory: "direct",
		Country:          "pt",
		CreatedAt:        at.UTC(),
	}
}

// InsertEvents writes events directly, bypassing the ingestion pipeline.
func InsertEvents(t *testing.T, db *gorm.DB, evs ...events.Event) {
	t.Helper()
	if len(evs) == 0 {
		return
	}
	require.NoError(t, db.Create(&evs).Error)
}

// InsertVisits records unique visits for the given identities on a page.
func InsertVisits(t *testing.T, db *gorm.DB, page string, at time.Time, identities ...string) {
	t.Helper()
	for _, id := range identities {
		_, err := visits.Record(db, visits.Visit{
			IdentityHash:     id,
			PageSlug:         page,
			Device:           "desktop",
			Browser:          "chrome",
			ReferrerCategory: "direct",
			At:               at,
		})
		require.NoError(t, err)
	}
}
