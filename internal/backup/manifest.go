package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestFilename is the per-run metadata record, stable contract for
// external tooling.
const ManifestFilename = "backup-manifest.json"

// SourceInfo describes the database a run was taken from.
type SourceInfo struct {
	Path          string `json:"path"`
	SizeBytes     int64  `json:"size_bytes"`
	JournalMode   string `json:"journal_mode"`
	EngineVersion string `json:"engine_version"`
}

// Manifest records the state of one backup run: what succeeded, what
// failed, and how to recover from each artifact. Written once per run,
// never mutated; it records the world even when formats failed.
type Manifest struct {
	CreatedAt  time.Time         `json:"created_at"`
	RunToken   string            `json:"run_token"`
	Source     SourceInfo        `json:"source"`
	Succeeded  []string          `json:"succeeded"`
	Failed     []string          `json:"failed"`
	Validation *ValidationReport `json:"validation,omitempty"`
	Recovery   map[string]string `json:"recovery"`
}

// NewManifest builds the manifest for a finished run. Artifacts are
// reported by filename, not full path.
func NewManifest(run *BackupRun, validation *ValidationReport) *Manifest {
	m := &Manifest{
		CreatedAt: time.Now().UTC(),
		RunToken:  run.Token,
		Source: SourceInfo{
			Path:          run.SourcePath,
			SizeBytes:     run.SourceSize,
			JournalMode:   run.JournalMode,
			EngineVersion: run.EngineVersion,
		},
		Succeeded:  []string{},
		Failed:     []string{},
		Validation: validation,
		Recovery:   map[string]string{},
	}
	for _, art := range run.Artifacts {
		if art.OK() {
			m.Succeeded = append(m.Succeeded, art.Filename())
			m.Recovery[string(art.Format)] = recoveryCommand(art)
			continue
		}
		m.Failed = append(m.Failed, filepath.Base(art.Path))
	}
	return m
}

// recoveryCommand returns the literal, copy-pasteable command that turns
// the packaged artifact back into usable data.
func recoveryCommand(art *ExportArtifact) string {
	name := art.Filename()
	switch art.Format {
	case FormatBinary:
		return fmt.Sprintf("gpg --decrypt %s | gunzip > db.sqlite3", name)
	case FormatSQL:
		return fmt.Sprintf("gpg --decrypt %s | gunzip | sqlite3 restored.sqlite3", name)
	case FormatCSV:
		return fmt.Sprintf("gpg --decrypt %s | tar xz", name)
	case FormatJSON:
		return fmt.Sprintf("gpg --decrypt %s | gunzip > export.json", name)
	case FormatSchema:
		return fmt.Sprintf("gpg --decrypt %s | gunzip | sqlite3 schema-only.sqlite3", name)
	default:
		return ""
	}
}

// Write stores the manifest in the run directory.
func (m *Manifest) Write(dir string) error {
	path := filepath.Join(dir, ManifestFilename)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest %q: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return f.Close()
}

// LoadManifest reads a run's manifest back.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFilename)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest %q: %w", path, err)
	}
	defer f.Close()

	var m Manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
