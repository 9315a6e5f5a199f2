package restore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayoubh/wardenctl/internal/backup"
	"github.com/ayoubh/wardenctl/internal/config"
	"github.com/ayoubh/wardenctl/internal/logger"
	"github.com/ayoubh/wardenctl/internal/sqlite"
	"github.com/ayoubh/wardenctl/internal/stack"
)

// recordingRunner stands in for docker: it records every command and
// reports all containers healthy.
type recordingRunner struct {
	calls [][]string
}

func (r *recordingRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if len(args) > 0 && args[0] == "inspect" {
		return []byte("healthy\n"), nil
	}
	return nil, nil
}

func buildSnapshot(t *testing.T, dir string) string {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(dir, "snapshot.sqlite3")
	db, err := sqlite.Create(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Exec(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`))
	require.NoError(t, db.Exec(ctx, `INSERT INTO users (name) VALUES ('alice'), ('bob')`))
	return path
}

func TestInstallBinaryReplacesLiveFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	snapshot := buildSnapshot(t, dir)

	livePath := filepath.Join(dir, "db.sqlite3")
	require.NoError(t, os.WriteFile(livePath, []byte("old live bytes"), 0o644))
	require.NoError(t, os.WriteFile(livePath+"-wal", []byte("stale wal"), 0o644))
	require.NoError(t, os.WriteFile(livePath+"-shm", []byte("stale shm"), 0o644))

	require.NoError(t, installBinary(ctx, snapshot, livePath))

	live, err := sqlite.Open(livePath)
	require.NoError(t, err)
	defer live.Close()
	n, err := live.RowCount(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = os.Stat(livePath + "-wal")
	assert.True(t, os.IsNotExist(err), "stale sidecars must be gone")
	_, err = os.Stat(livePath + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary must not survive the rename")
}

func TestInstallBinaryCorruptSnapshotLeavesLiveUntouched(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Not a database at all; the integrity check must reject it before
	// the rename.
	snapshot := filepath.Join(dir, "snapshot.sqlite3")
	require.NoError(t, os.WriteFile(snapshot, []byte("garbage, not sqlite"), 0o644))

	livePath := filepath.Join(dir, "db.sqlite3")
	require.NoError(t, os.WriteFile(livePath, []byte("precious live bytes"), 0o644))

	err := installBinary(ctx, snapshot, livePath)
	require.Error(t, err)

	data, readErr := os.ReadFile(livePath)
	require.NoError(t, readErr)
	assert.Equal(t, "precious live bytes", string(data))
	_, statErr := os.Stat(livePath + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestInstallSQLReplaysDump(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	dumpPath := filepath.Join(dir, "dump.sql")
	dump := `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);
INSERT INTO users (name) VALUES ('alice');
INSERT INTO users (name) VALUES ('bob');
`
	require.NoError(t, os.WriteFile(dumpPath, []byte(dump), 0o644))

	livePath := filepath.Join(dir, "db.sqlite3")
	require.NoError(t, os.WriteFile(livePath, []byte("old live bytes"), 0o644))

	require.NoError(t, installSQL(ctx, dumpPath, livePath))

	live, err := sqlite.Open(livePath)
	require.NoError(t, err)
	defer live.Close()
	n, err := live.RowCount(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestInstallSQLBadDump(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	dumpPath := filepath.Join(dir, "dump.sql")
	require.NoError(t, os.WriteFile(dumpPath, []byte("NOT SQL AT ALL;\n"), 0o644))

	livePath := filepath.Join(dir, "db.sqlite3")
	err := installSQL(ctx, dumpPath, livePath)
	assert.Error(t, err)
}

func TestRestoreDecryptFailureLeavesStackUntouched(t *testing.T) {
	rec := &recordingRunner{}
	st := stack.New("docker-compose.yml", []string{"vaultwarden"}, logger.Nop(), stack.WithRunner(rec.run))

	var cfg config.Config
	cfg.Data.DatabasePath = filepath.Join(t.TempDir(), "db.sqlite3")
	cfg.Restore.HealthRetries = 1
	cfg.Restore.HealthInterval = time.Millisecond

	var tempDir string
	failing := func(ctx context.Context, passphrase, archive, outPath string) error {
		tempDir = filepath.Dir(outPath)
		return errors.New("decryption failed: Bad session key")
	}
	orch := New(cfg, logger.Nop(), st, "wrong-passphrase", WithDecrypter(failing))

	err := orch.Restore(context.Background(),
		"/backups/db/x/db-sqlite3-20240101-020304.sqlite3.gpg", backup.FormatBinary)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecrypt)

	assert.Empty(t, rec.calls, "a failed decrypt must never touch the stack")
	assert.Equal(t, StateDecrypting, orch.State())
	require.NotEmpty(t, tempDir)
	_, statErr := os.Stat(tempDir)
	assert.True(t, os.IsNotExist(statErr), "session temp dir must be removed")
}

func TestRestoreHealthyPathSequence(t *testing.T) {
	dir := t.TempDir()
	snapshot := buildSnapshot(t, dir)
	snapshotBytes, err := os.ReadFile(snapshot)
	require.NoError(t, err)

	rec := &recordingRunner{}
	st := stack.New("docker-compose.yml", []string{"vaultwarden"}, logger.Nop(), stack.WithRunner(rec.run))

	var cfg config.Config
	cfg.Data.DatabasePath = filepath.Join(dir, "db.sqlite3")
	cfg.Restore.HealthRetries = 3
	cfg.Restore.HealthInterval = time.Millisecond

	fake := func(ctx context.Context, passphrase, archive, outPath string) error {
		return os.WriteFile(outPath, snapshotBytes, 0o644)
	}
	orch := New(cfg, logger.Nop(), st, "pw", WithDecrypter(fake))

	archive := filepath.Join(dir, "db-sqlite3-20240101-020304.sqlite3.gpg")
	require.NoError(t, orch.Restore(context.Background(), archive, backup.FormatBinary))
	assert.Equal(t, StateHealthy, orch.State())

	// Stopped before Installing, Starting after, health polled last.
	require.Len(t, rec.calls, 3)
	assert.Equal(t, "down", rec.calls[0][len(rec.calls[0])-1])
	assert.Equal(t, "-d", rec.calls[1][len(rec.calls[1])-1])
	assert.Equal(t, "inspect", rec.calls[2][1])

	live, err := sqlite.Open(cfg.Data.DatabasePath)
	require.NoError(t, err)
	defer live.Close()
	n, err := live.RowCount(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRestoreUnhealthyLeavesStackRunning(t *testing.T) {
	dir := t.TempDir()
	snapshot := buildSnapshot(t, dir)
	snapshotBytes, err := os.ReadFile(snapshot)
	require.NoError(t, err)

	// Every health poll reports unhealthy; up/down still succeed.
	rec := &recordingRunner{}
	unhealthy := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		rec.calls = append(rec.calls, append([]string{name}, args...))
		if len(args) > 0 && args[0] == "inspect" {
			return []byte("unhealthy\n"), nil
		}
		return nil, nil
	}
	st := stack.New("docker-compose.yml", []string{"vaultwarden"}, logger.Nop(), stack.WithRunner(unhealthy))

	var cfg config.Config
	cfg.Data.DatabasePath = filepath.Join(dir, "db.sqlite3")
	cfg.Restore.HealthRetries = 2
	cfg.Restore.HealthInterval = time.Millisecond

	fake := func(ctx context.Context, passphrase, archive, outPath string) error {
		return os.WriteFile(outPath, snapshotBytes, 0o644)
	}
	orch := New(cfg, logger.Nop(), st, "pw", WithDecrypter(fake))

	archive := filepath.Join(dir, "db-sqlite3-20240101-020304.sqlite3.gpg")
	err = orch.Restore(context.Background(), archive, backup.FormatBinary)
	require.Error(t, err)
	assert.ErrorIs(t, err, stack.ErrUnhealthy)
	assert.Equal(t, StateUnhealthy, orch.State())

	// No second compose down: the stack stays up for the operator.
	downs := 0
	for _, call := range rec.calls {
		if call[len(call)-1] == "down" {
			downs++
		}
	}
	assert.Equal(t, 1, downs)
}

func TestSelectArchivePicksMostRecent(t *testing.T) {
	dbDir := t.TempDir()
	runs := []string{"20240101-020304", "20240301-020304", "20240201-020304"}
	for _, token := range runs {
		dir := filepath.Join(dbDir, token)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		name := "db-sqlite3-" + token + ".sqlite3.gz.gpg"
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	got, err := SelectArchive(dbDir, backup.FormatBinary)
	require.NoError(t, err)
	assert.Contains(t, got, "20240301-020304")
}

func TestSelectArchiveFiltersByFormat(t *testing.T) {
	dbDir := t.TempDir()
	dir := filepath.Join(dbDir, "20240101-020304")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "db-json-20240101-020304.json.gz.gpg"), nil, 0o644))

	_, err := SelectArchive(dbDir, backup.FormatSQL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoArchive)

	got, err := SelectArchive(dbDir, backup.FormatJSON)
	require.NoError(t, err)
	assert.Contains(t, got, "db-json-")
}

func TestFormatOf(t *testing.T) {
	cases := map[string]backup.Format{
		"db-sqlite3-20240101-020304.sqlite3.gz.gpg": backup.FormatBinary,
		"db-sql-20240101-020304.sql.gz.gpg":         backup.FormatSQL,
		"db-csv-20240101-020304.tar.gz.gpg":         backup.FormatCSV,
		"db-json-20240101-020304.json.gz.gpg":       backup.FormatJSON,
		"db-schema-20240101-020304.sql.gz.gpg":      backup.FormatSchema,
		"unrelated-file.gpg":                        backup.Format(""),
	}
	for name, want := range cases {
		assert.Equal(t, want, formatOf("/backups/db/x/"+name), name)
	}
}
