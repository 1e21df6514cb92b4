package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/critique/internal/config"
)

func columns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	require.NoError(t, err)
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		cols = append(cols, name)
	}
	require.NoError(t, rows.Err())
	return cols
}

func TestInit_SessionSchema(t *testing.T) {
	db := openTestDB(t)

	want := map[string][]string{
		"sessions":      {"name_norm", "name_raw", "code", "language", "file_name", "theme", "created_at", "updated_at"},
		"threads":       {"session", "id", "position", "start_line", "end_line", "status", "original_code", "created_at"},
		"messages":      {"session", "thread_id", "id", "position", "role", "content", "created_at"},
		"suggestions":   {"session", "thread_id", "message_id", "id", "position", "original", "suggested", "applied"},
		"outside_notes": {"session", "thread_id", "message_id", "position", "note"},
	}
	for table, cols := range want {
		if diff := cmp.Diff(cols, columns(t, db, table)); diff != "" {
			t.Errorf("%s columns mismatch (-want +got):\n%s", table, diff)
		}
	}

	var tables int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table'").Scan(&tables))
	assert.Equal(t, len(want), tables)

	var indexTable string
	err := db.QueryRow("SELECT tbl_name FROM sqlite_master WHERE type='index' AND name='idx_sessions_updated'").Scan(&indexTable)
	require.NoError(t, err, "idx_sessions_updated missing")
	assert.Equal(t, "sessions", indexTable)

	version, err := GetUserVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestInit_Layout(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "home", ".critique")

	db, err := Init(baseDir)
	require.NoError(t, err)
	defer db.Close()

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	info, err := os.Stat(filepath.Join(baseDir, "exports"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	dbInfo, err := os.Stat(filepath.Join(baseDir, FileName))
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
		assert.Equal(t, os.FileMode(0600), dbInfo.Mode().Perm())
	}
}

func TestInit_ReopenKeepsSessions(t *testing.T) {
	ctx := context.Background()
	baseDir := t.TempDir()

	first, err := Init(baseDir)
	require.NoError(t, err)
	require.NoError(t, NewSessionStore(first, "work").Save(ctx, sampleSnapshot()))
	require.NoError(t, first.Close())

	second, err := Init(baseDir)
	require.NoError(t, err)
	defer second.Close()

	version, err := GetUserVersion(second)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	snap, err := NewSessionStore(second, "work").Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "a\nb\nc", snap.Document.Code)
	assert.Len(t, snap.Threads, 2)
}

func TestConfigurePool(t *testing.T) {
	db := openTestDB(t)

	ConfigurePool(db, nil)
	assert.Equal(t, 0, db.Stats().MaxOpenConnections)

	cfg := config.DefaultConfig()
	cfg.DB.MaxOpenConns = 1
	ConfigurePool(db, cfg)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}
