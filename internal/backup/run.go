package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ayoubh/wardenctl/internal/config"
	"github.com/ayoubh/wardenctl/internal/logger"
	"github.com/ayoubh/wardenctl/internal/sqlite"
)

// Runner drives one database backup run through the whole pipeline:
// resource governing, consistency preparation, the five exporters,
// verification, cross-format validation, packaging, and the manifest.
type Runner struct {
	cfg        config.Config
	log        logger.Logger
	passphrase string
}

// NewRunner builds a Runner. The passphrase has already been fetched by
// the caller (Vault or local file); the Runner never loads secrets.
func NewRunner(cfg config.Config, log logger.Logger, passphrase string) *Runner {
	return &Runner{cfg: cfg, log: log, passphrase: passphrase}
}

// Run executes one backup run and returns its manifest. The error
// distinguishes the failure classes: ErrPrecondition (nothing written),
// ErrAllFormatsFailed (manifest written, nothing usable), ErrPartial
// (manifest written, some formats usable). Advisory failures inside
// (checkpoint, retention, sync) only show up in logs.
func (r *Runner) Run(ctx context.Context) (*Manifest, error) {
	// Preconditions first: nothing is written until they all hold.
	if _, err := exec.LookPath(gpgCommand); err != nil {
		return nil, fmt.Errorf("%w: %s not found in PATH", ErrPrecondition, gpgCommand)
	}

	src, err := sqlite.Open(r.cfg.Data.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	defer src.Close()

	dbSize, err := src.Size()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}

	dbDir := filepath.Join(r.cfg.Backup.Directory, "db")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}

	profile, err := NewGovernor(r.log).Inspect(dbDir, dbSize)
	if err != nil {
		return nil, err
	}

	run := &BackupRun{
		Token:      time.Now().Format(r.cfg.Backup.TimestampFormat),
		SourcePath: r.cfg.Data.DatabasePath,
		SourceSize: dbSize,
		WALSize:    src.WALSize(),
		Profile:    profile,
	}
	run.Timeout = Timeout(run.SourceSize, run.WALSize)
	run.Dir = filepath.Join(dbDir, run.Token)

	if run.EngineVersion, err = src.Version(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}

	r.log.Info("backup run starting",
		"token", run.Token,
		"database", run.SourcePath,
		"size", run.SourceSize,
		"timeout", run.Timeout.String(),
		"streaming", profile.Streaming,
		"low_priority", profile.LowPriority,
	)

	if err := os.MkdirAll(run.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}

	// Consistency preparation; checkpoint failures degrade to warnings.
	mode, err := NewPreparer(r.log).Prepare(ctx, src, run.Timeout)
	if err != nil {
		return nil, fmt.Errorf("detect journal mode: %w", err)
	}
	run.JournalMode = mode

	ExportAll(ctx, r.log, src, run)

	NewVerifier(r.log).VerifyBinary(ctx, artifactOf(run, FormatBinary), src)

	validation := CrossValidate(ctx, r.log, src, run)

	packager := NewPackager(r.log, r.passphrase, profile.Streaming, run.Timeout)
	for _, art := range run.Artifacts {
		if !art.OK() {
			continue
		}
		if err := packager.Package(ctx, art); err != nil {
			art.Err = err
			r.log.Error("packaging failed",
				"format", art.Format,
				"error", err.Error(),
			)
		}
	}

	// The manifest records the state of the world, even a bleak one.
	manifest := NewManifest(run, validation)
	if err := manifest.Write(run.Dir); err != nil {
		return manifest, fmt.Errorf("write manifest: %w", err)
	}

	Prune(r.log, dbDir, r.cfg.Backup.TimestampFormat, r.cfg.Retention.Days)
	SyncRun(ctx, r.log, run.Dir, r.cfg.Sync.Remote)

	succeeded, failed := len(run.Succeeded()), len(run.Failed())
	r.log.Info("backup run finished",
		"token", run.Token,
		"succeeded", succeeded,
		"failed", failed,
	)
	switch {
	case succeeded == 0:
		return manifest, ErrAllFormatsFailed
	case failed > 0:
		return manifest, fmt.Errorf("%w: %d of %d", ErrPartial, failed, len(run.Artifacts))
	default:
		return manifest, nil
	}
}

// artifactOf returns the run's artifact for format, nil if absent.
func artifactOf(run *BackupRun, format Format) *ExportArtifact {
	for _, art := range run.Artifacts {
		if art.Format == format {
			return art
		}
	}
	return nil
}
