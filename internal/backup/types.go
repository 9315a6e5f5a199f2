package backup

import (
	"path/filepath"
	"time"
)

// Format identifies one of the five export representations.
type Format string

const (
	// FormatBinary is a byte-identical, directly restorable database file.
	FormatBinary Format = "sqlite3"
	// FormatSQL is a portable, transactionally wrapped statement dump.
	FormatSQL Format = "sql"
	// FormatCSV is a directory of per-table CSV files plus a manifest.
	FormatCSV Format = "csv"
	// FormatJSON is a single structured document: schema plus per-table rows.
	FormatJSON Format = "json"
	// FormatSchema is a structure-only dump: DDL and relevant pragmas.
	FormatSchema Format = "schema"
)

// Formats lists every export representation in manifest order.
var Formats = []Format{FormatBinary, FormatSQL, FormatCSV, FormatJSON, FormatSchema}

// ext returns the plaintext file extension for the format. The CSV set
// is a directory and gets its extension when tarred.
func (f Format) ext() string {
	switch f {
	case FormatBinary:
		return ".sqlite3"
	case FormatSQL, FormatSchema:
		return ".sql"
	case FormatJSON:
		return ".json"
	default:
		return ""
	}
}

// ResourceProfile is the advisory context the governor hands to later
// stages.
type ResourceProfile struct {
	// Streaming makes compression flow source to destination instead of
	// buffering whole artifacts.
	Streaming bool
	// LowPriority is set when system load leaves no headroom; exporters
	// run sequentially instead of concurrently.
	LowPriority bool
}

// ExportArtifact is one produced representation and its fate.
type ExportArtifact struct {
	Format Format
	// Path of the plaintext artifact; a directory for the CSV set.
	Path string
	// Dir marks the artifact as a directory.
	Dir bool
	// Err holds the export or verification failure, nil on success.
	Err error
	// Packaged is the final encrypted file, set after packaging.
	Packaged string
}

// OK reports whether the artifact survived export and verification.
func (a *ExportArtifact) OK() bool { return a.Err == nil }

// Filename returns the artifact's base name for manifest reporting.
func (a *ExportArtifact) Filename() string {
	if a.Packaged != "" {
		return filepath.Base(a.Packaged)
	}
	return filepath.Base(a.Path)
}

// BackupRun captures one backup invocation. It is immutable once the
// manifest has been written.
type BackupRun struct {
	Token         string
	SourcePath    string
	SourceSize    int64
	WALSize       int64
	JournalMode   string
	EngineVersion string
	Timeout       time.Duration
	Profile       ResourceProfile
	Dir           string
	Artifacts     []*ExportArtifact
}

// Succeeded returns the artifacts that made it through the pipeline.
func (r *BackupRun) Succeeded() []*ExportArtifact {
	var out []*ExportArtifact
	for _, a := range r.Artifacts {
		if a.OK() {
			out = append(out, a)
		}
	}
	return out
}

// Failed returns the artifacts that did not.
func (r *BackupRun) Failed() []*ExportArtifact {
	var out []*ExportArtifact
	for _, a := range r.Artifacts {
		if !a.OK() {
			out = append(out, a)
		}
	}
	return out
}

// ArtifactName builds the canonical artifact filename:
// db-<format>-<timestamp>.<ext>.
func ArtifactName(f Format, token string) string {
	return "db-" + string(f) + "-" + token + f.ext()
}
