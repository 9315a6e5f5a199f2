package backup

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func partialRun() *BackupRun {
	return &BackupRun{
		Token:         "20240101-020304",
		SourcePath:    "/data/db.sqlite3",
		SourceSize:    52428800,
		JournalMode:   "wal",
		EngineVersion: "3.46.0",
		Artifacts: []*ExportArtifact{
			{
				Format:   FormatBinary,
				Path:     "/backups/db/20240101-020304/db-sqlite3-20240101-020304.sqlite3",
				Packaged: "/backups/db/20240101-020304/db-sqlite3-20240101-020304.sqlite3.gz.gpg",
			},
			{
				Format: FormatJSON,
				Path:   "/backups/db/20240101-020304/db-json-20240101-020304.json",
				Err:    errors.New("disk full"),
			},
			{
				Format:   FormatCSV,
				Path:     "/backups/db/20240101-020304/db-csv-20240101-020304",
				Dir:      true,
				Packaged: "/backups/db/20240101-020304/db-csv-20240101-020304.tar.gz.gpg",
			},
		},
	}
}

func TestNewManifestPartialRun(t *testing.T) {
	ok := true
	report := &ValidationReport{BinaryIntegrity: &ok, Passed: true}

	m := NewManifest(partialRun(), report)

	assert.Equal(t, "20240101-020304", m.RunToken)
	assert.Equal(t, "/data/db.sqlite3", m.Source.Path)
	assert.Equal(t, int64(52428800), m.Source.SizeBytes)
	assert.Equal(t, "wal", m.Source.JournalMode)
	assert.WithinDuration(t, time.Now().UTC(), m.CreatedAt, time.Minute)

	assert.Equal(t, []string{
		"db-sqlite3-20240101-020304.sqlite3.gz.gpg",
		"db-csv-20240101-020304.tar.gz.gpg",
	}, m.Succeeded)
	assert.Equal(t, []string{"db-json-20240101-020304.json"}, m.Failed)
	assert.True(t, m.Validation.Passed)
}

func TestManifestRecoveryCommands(t *testing.T) {
	m := NewManifest(partialRun(), nil)

	require.Len(t, m.Recovery, 2)
	assert.Equal(t,
		"gpg --decrypt db-sqlite3-20240101-020304.sqlite3.gz.gpg | gunzip > db.sqlite3",
		m.Recovery["sqlite3"])
	assert.Equal(t,
		"gpg --decrypt db-csv-20240101-020304.tar.gz.gpg | tar xz",
		m.Recovery["csv"])
	// Failed formats get no recovery entry.
	_, ok := m.Recovery["json"]
	assert.False(t, ok)
}

func TestManifestWriteLoad(t *testing.T) {
	dir := t.TempDir()
	ok := true
	m := NewManifest(partialRun(), &ValidationReport{BinaryIntegrity: &ok, Passed: true})

	require.NoError(t, m.Write(dir))

	got, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, m.RunToken, got.RunToken)
	assert.Equal(t, m.Succeeded, got.Succeeded)
	assert.Equal(t, m.Failed, got.Failed)
	assert.Equal(t, m.Recovery, got.Recovery)
	require.NotNil(t, got.Validation)
	assert.True(t, got.Validation.Passed)
}

func TestLoadManifestMissing(t *testing.T) {
	_, err := LoadManifest(t.TempDir())
	assert.Error(t, err)
}
