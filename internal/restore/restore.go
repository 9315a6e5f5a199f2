// Package restore reverses the backup pipeline: decrypt an archive,
// quiesce the service stack, install the data atomically, and gate
// resumption on container health.
package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ayoubh/wardenctl/internal/backup"
	"github.com/ayoubh/wardenctl/internal/config"
	"github.com/ayoubh/wardenctl/internal/logger"
	"github.com/ayoubh/wardenctl/internal/sqlite"
	"github.com/ayoubh/wardenctl/internal/stack"
)

// State names the orchestrator's position in the restore sequence.
type State string

const (
	StateIdle           State = "idle"
	StateDecrypting     State = "decrypting"
	StateStopped        State = "stopped"
	StateInstalling     State = "installing"
	StateStarting       State = "starting"
	StateHealthChecking State = "health-checking"
	StateHealthy        State = "healthy"
	StateUnhealthy      State = "unhealthy"
)

// ErrDecrypt is fatal and unrecoverable: wrong passphrase or corrupt
// archive. No retry, and the stack is never stopped.
var ErrDecrypt = errors.New("archive decryption failed")

// ErrNoArchive means no archive matched the selection.
var ErrNoArchive = errors.New("no matching backup archive found")

// ErrInstall is a fatal post-install failure; the operator needs a
// prior archive.
var ErrInstall = errors.New("restored database failed consistency check")

// Decrypter turns one encrypted archive into its plaintext at outPath.
// The default shells to gpg; tests substitute a fake.
type Decrypter func(ctx context.Context, passphrase, archivePath, outPath string) error

// Orchestrator runs one restore session at a time.
type Orchestrator struct {
	cfg        config.Config
	log        logger.Logger
	stack      *stack.Stack
	passphrase string
	decrypter  Decrypter
	state      State
}

// Option overrides Orchestrator defaults.
type Option func(*Orchestrator)

// WithDecrypter substitutes the archive decrypter; used by tests.
func WithDecrypter(fn Decrypter) Option {
	return func(o *Orchestrator) { o.decrypter = fn }
}

// New builds an Orchestrator around the configured stack.
func New(cfg config.Config, log logger.Logger, st *stack.Stack, passphrase string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		log:        log,
		stack:      st,
		passphrase: passphrase,
		decrypter:  gpgDecrypt,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State { return o.state }

// session owns the decrypted temporary files; they are removed on every
// exit path regardless of outcome.
type session struct {
	archive string
	format  backup.Format
	tempDir string
}

func (s *session) cleanup() {
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
}

// Restore decrypts archivePath (or the most recent archive of format
// when archivePath is empty), stops the stack, installs the database,
// restarts the stack, and polls health. Transitions:
// Idle → Decrypting → Stopped → Installing → Starting → HealthChecking
// → Healthy | Unhealthy.
func (o *Orchestrator) Restore(ctx context.Context, archivePath string, format backup.Format) error {
	if archivePath == "" {
		var err error
		archivePath, err = SelectArchive(filepath.Join(o.cfg.Backup.Directory, "db"), format)
		if err != nil {
			return err
		}
	}
	sess := &session{archive: archivePath, format: formatOf(archivePath)}
	defer sess.cleanup()

	if sess.format != backup.FormatBinary && sess.format != backup.FormatSQL {
		return fmt.Errorf("archive %q is not restorable in place (format %q)",
			filepath.Base(archivePath), sess.format)
	}

	o.log.Info("restore starting",
		"archive", archivePath,
		"format", sess.format,
	)

	o.state = StateDecrypting
	plainPath, err := o.decrypt(ctx, sess)
	if err != nil {
		// Unrecoverable; the stack was never touched.
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	o.state = StateStopped
	if err := o.stack.Down(ctx); err != nil {
		return fmt.Errorf("quiesce stack: %w", err)
	}

	o.state = StateInstalling
	installErr := o.install(ctx, sess.format, plainPath)

	// The stack comes back up even after a failed install: the live file
	// is untouched (binary path) or the operator needs the services to
	// reach a prior archive. Rollback is an explicit operator action.
	o.state = StateStarting
	if err := o.stack.Up(ctx); err != nil {
		if installErr != nil {
			return fmt.Errorf("restart stack after failed install (%v): %w", installErr, err)
		}
		return fmt.Errorf("restart stack: %w", err)
	}
	if installErr != nil {
		return installErr
	}

	o.state = StateHealthChecking
	if err := o.stack.WaitHealthy(ctx, o.cfg.Restore.HealthRetries, o.cfg.Restore.HealthInterval); err != nil {
		o.state = StateUnhealthy
		return err
	}

	o.state = StateHealthy
	o.log.Info("restore completed", "archive", archivePath)
	return nil
}

// decrypt produces the private plaintext file for the session: the
// decrypter first, then the gzip layer.
func (o *Orchestrator) decrypt(ctx context.Context, sess *session) (string, error) {
	tempDir, err := os.MkdirTemp("", "wardenctl-restore-")
	if err != nil {
		return "", err
	}
	sess.tempDir = tempDir

	gzPath := filepath.Join(tempDir, strings.TrimSuffix(filepath.Base(sess.archive), ".gpg"))
	if err := o.decrypter(ctx, o.passphrase, sess.archive, gzPath); err != nil {
		return "", err
	}

	if !strings.HasSuffix(gzPath, ".gz") {
		return gzPath, nil
	}
	plainPath := strings.TrimSuffix(gzPath, ".gz")
	if err := gunzipFile(gzPath, plainPath); err != nil {
		return "", fmt.Errorf("decompress: %w", err)
	}
	os.Remove(gzPath)
	return plainPath, nil
}

// gpgDecrypt is the default Decrypter: gpg in batch mode with the
// passphrase passed through a one-time credential file next to outPath
// (the session temp dir, already process-private).
func gpgDecrypt(ctx context.Context, passphrase, archivePath, outPath string) error {
	credFile := filepath.Join(filepath.Dir(outPath), "passphrase")
	if err := os.WriteFile(credFile, []byte(passphrase), 0o600); err != nil {
		return err
	}
	defer os.Remove(credFile)

	dctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(dctx, "gpg",
		"--batch", "--yes",
		"--pinentry-mode", "loopback",
		"--passphrase-file", credFile,
		"--decrypt",
		"--output", outPath,
		archivePath,
	)
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("gpg decrypt: %w", err)
	}
	return nil
}

func (o *Orchestrator) install(ctx context.Context, format backup.Format, plainPath string) error {
	info, err := os.Stat(plainPath)
	if err != nil {
		return err
	}
	ictx, cancel := context.WithTimeout(ctx, backup.Timeout(info.Size(), 0))
	defer cancel()

	switch format {
	case backup.FormatBinary:
		return installBinary(ictx, plainPath, o.cfg.Data.DatabasePath)
	case backup.FormatSQL:
		return installSQL(ictx, plainPath, o.cfg.Data.DatabasePath)
	default:
		return fmt.Errorf("format %q cannot be installed", format)
	}
}

// installBinary copies the snapshot next to the live file, checks its
// consistency there, and only then renames it over the live path. The
// live database is never left half-written.
func installBinary(ctx context.Context, snapshotPath, livePath string) error {
	tmpPath := livePath + ".tmp"
	if err := copyFile(snapshotPath, tmpPath); err != nil {
		return err
	}

	tmpDB, err := sqlite.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	checkErr := tmpDB.IntegrityCheck(ctx)
	tmpDB.Close()
	if checkErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrInstall, checkErr)
	}

	if err := os.Rename(tmpPath, livePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("install snapshot: %w", err)
	}
	// Stale sidecars describe the old file; they must not survive it.
	removeSidecars(livePath)
	return nil
}

// installSQL removes the live database and replays the dump into a
// fresh file. A failed consistency check here is fatal; there is no
// safe fallback beyond a prior archive.
func installSQL(ctx context.Context, dumpPath, livePath string) error {
	if err := os.Remove(livePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove live database: %w", err)
	}
	removeSidecars(livePath)

	db, err := sqlite.Create(livePath)
	if err != nil {
		return err
	}
	defer db.Close()

	dump, err := os.Open(dumpPath)
	if err != nil {
		return err
	}
	defer dump.Close()

	if err := sqlite.ReplayScript(ctx, db, dump); err != nil {
		return fmt.Errorf("replay dump: %w", err)
	}
	if err := db.IntegrityCheck(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrInstall, err)
	}
	return nil
}

func removeSidecars(dbPath string) {
	for _, ext := range []string{"-wal", "-shm"} {
		os.Remove(dbPath + ext)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func gunzipFile(gzPath, outPath string) error {
	in, err := os.Open(gzPath)
	if err != nil {
		return err
	}
	defer in.Close()
	gz, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer gz.Close()
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, gz); err != nil {
		out.Close()
		os.Remove(outPath)
		return err
	}
	return out.Close()
}
