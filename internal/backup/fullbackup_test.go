package backup

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayoubh/wardenctl/internal/logger"
)

func tarNames(t *testing.T, path string) map[string]bool {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	names := map[string]bool{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names[hdr.Name] = true
	}
	return names
}

func TestArchiveDataDir(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "db.sqlite3"), []byte("db"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "attachments", "u1"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dataDir, "attachments", "u1", "file.bin"), []byte("blob"), 0o644))

	outPath := filepath.Join(t.TempDir(), "full.tar.gz")
	require.NoError(t, archiveDataDir(dataDir, filepath.Join(t.TempDir(), "backups"), outPath))

	names := tarNames(t, outPath)
	base := filepath.Base(dataDir)
	assert.True(t, names[filepath.Join(base, "db.sqlite3")])
	assert.True(t, names[filepath.Join(base, "attachments", "u1", "file.bin")])
}

func TestDataDirSizeSkipsNestedBackupRoot(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "db.sqlite3"), make([]byte, 100), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "attachments"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dataDir, "attachments", "file.bin"), make([]byte, 50), 0o644))

	backupRoot := filepath.Join(dataDir, "backups")
	require.NoError(t, os.MkdirAll(backupRoot, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(backupRoot, "full-old.tar.gz.gpg"), make([]byte, 4096), 0o644))

	size, err := dataDirSize(dataDir, backupRoot)
	require.NoError(t, err)
	assert.Equal(t, int64(150), size, "existing backups must not count against the precondition")
}

func TestFullBackupEndToEnd(t *testing.T) {
	if _, err := exec.LookPath(gpgCommand); err != nil {
		t.Skip("gpg not installed")
	}

	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "db.sqlite3"), []byte("db"), 0o644))
	backupRoot := t.TempDir()

	encrypted, err := FullBackup(context.Background(), logger.Nop(),
		dataDir, backupRoot, "20240101-020304", "pw")
	require.NoError(t, err)
	assert.Equal(t,
		filepath.Join(backupRoot, "full", "full-20240101-020304.tar.gz.gpg"),
		encrypted)
	_, err = os.Stat(encrypted)
	assert.NoError(t, err)

	// No plaintext intermediate survives.
	_, err = os.Stat(strings.TrimSuffix(encrypted, ".gpg"))
	assert.True(t, os.IsNotExist(err))
}

func TestArchiveDataDirSkipsNestedBackupRoot(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "db.sqlite3"), []byte("db"), 0o644))

	// The backup root lives inside the data directory; archiving it
	// would make every full backup swallow all previous ones.
	backupRoot := filepath.Join(dataDir, "backups")
	require.NoError(t, os.MkdirAll(filepath.Join(backupRoot, "full"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(backupRoot, "full", "full-old.tar.gz.gpg"), []byte("old"), 0o644))

	outPath := filepath.Join(t.TempDir(), "full.tar.gz")
	require.NoError(t, archiveDataDir(dataDir, backupRoot, outPath))

	names := tarNames(t, outPath)
	base := filepath.Base(dataDir)
	assert.True(t, names[filepath.Join(base, "db.sqlite3")])
	for name := range names {
		assert.NotContains(t, name, "backups", "nested backup root must be skipped")
	}
}
