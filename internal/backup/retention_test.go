package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayoubh/wardenctl/internal/logger"
)

const testTokenFormat = "20060102-150405"

func mkRunDir(t *testing.T, dbDir string, age time.Duration) string {
	t.Helper()
	name := time.Now().Add(-age).Format(testTokenFormat)
	path := filepath.Join(dbDir, name)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, ManifestFilename), []byte("{}"), 0o644))
	return path
}

func TestPruneRemovesExpiredRuns(t *testing.T) {
	dbDir := t.TempDir()
	old := mkRunDir(t, dbDir, 40*24*time.Hour)
	fresh := mkRunDir(t, dbDir, 24*time.Hour)

	removed := Prune(logger.Nop(), dbDir, testTokenFormat, 30)
	assert.Equal(t, 1, removed)

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestPruneIgnoresForeignDirectories(t *testing.T) {
	dbDir := t.TempDir()
	foreign := filepath.Join(dbDir, "keep-me")
	require.NoError(t, os.MkdirAll(foreign, 0o755))

	removed := Prune(logger.Nop(), dbDir, testTokenFormat, 0)
	assert.Equal(t, 0, removed)
	_, err := os.Stat(foreign)
	assert.NoError(t, err)
}

func TestPruneRemovesStaleTemporaries(t *testing.T) {
	dbDir := t.TempDir()

	stale := filepath.Join(dbDir, "db-sqlite3-x.sqlite3.tmp")
	require.NoError(t, os.WriteFile(stale, nil, 0o644))
	oldTime := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, oldTime, oldTime))

	recent := filepath.Join(dbDir, "db-sql-y.sql.tmp")
	require.NoError(t, os.WriteFile(recent, nil, 0o644))

	Prune(logger.Nop(), dbDir, testTokenFormat, 30)

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "temporaries older than an hour are swept")
	_, err = os.Stat(recent)
	assert.NoError(t, err, "fresh temporaries may belong to a live run")
}

func TestPruneDisabledForNonPositiveDays(t *testing.T) {
	dbDir := t.TempDir()
	// A run written moments ago: with a zero-day cutoff it would parse
	// as expired and the prune would eat the backup it just produced.
	fresh := mkRunDir(t, dbDir, 0)

	for _, days := range []int{0, -1} {
		removed := Prune(logger.Nop(), dbDir, testTokenFormat, days)
		assert.Equal(t, 0, removed, "days=%d", days)
		_, err := os.Stat(fresh)
		assert.NoError(t, err, "days=%d must not remove the fresh run", days)
	}
}

func TestPruneMissingDirectory(t *testing.T) {
	removed := Prune(logger.Nop(), filepath.Join(t.TempDir(), "absent"), testTokenFormat, 30)
	assert.Equal(t, 0, removed)
}
