package backup

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ayoubh/wardenctl/internal/logger"
)

// FullBackup archives the whole application data directory (attachments,
// config, key material — the volume state the database alone does not
// cover) into <backupRoot>/full/full-<token>.tar.gz.gpg. The live
// database file is included as-is; point-in-time database recovery is
// the db pipeline's job, the full archive exists for volume-level
// disaster recovery. The same free-space precondition and size-scaled
// timeout as the db pipeline apply, measured against the data
// directory's total size.
func FullBackup(
	ctx context.Context,
	log logger.Logger,
	dataDir, backupRoot, token, passphrase string,
) (string, error) {
	fullDir := filepath.Join(backupRoot, "full")
	if err := os.MkdirAll(fullDir, 0o755); err != nil {
		return "", fmt.Errorf("create full backup directory: %w", err)
	}

	size, err := dataDirSize(dataDir, backupRoot)
	if err != nil {
		return "", fmt.Errorf("%w: size %q: %v", ErrPrecondition, dataDir, err)
	}
	profile, err := NewGovernor(log).Inspect(fullDir, size)
	if err != nil {
		return "", err
	}
	timeout := Timeout(size, 0)
	log.Info("full backup starting",
		"data_dir", dataDir,
		"size", size,
		"timeout", timeout.String(),
		"streaming", profile.Streaming,
	)

	tarPath := filepath.Join(fullDir, "full-"+token+".tar.gz")
	if err := archiveDataDir(dataDir, backupRoot, tarPath); err != nil {
		os.Remove(tarPath)
		return "", fmt.Errorf("archive %q: %w", dataDir, err)
	}

	start := time.Now()
	packager := NewPackager(log, passphrase, profile.Streaming, timeout)
	encrypted, err := packager.Encrypt(ctx, tarPath)
	if err != nil {
		return "", err
	}
	log.Info("full backup completed",
		"path", encrypted,
		"duration", time.Since(start).String(),
	)
	return encrypted, nil
}

// dataDirSize sums the regular files under dataDir, skipping the backup
// root in case it nests inside the data directory.
func dataDirSize(dataDir, backupRoot string) (int64, error) {
	absBackups, err := filepath.Abs(backupRoot)
	if err != nil {
		return 0, err
	}
	var total int64
	err = filepath.Walk(dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if abs, aerr := filepath.Abs(path); aerr == nil {
			if abs == absBackups || strings.HasPrefix(abs, absBackups+string(os.PathSeparator)) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// archiveDataDir tars and gzips dataDir into outPath, skipping the
// backup root in case it nests inside the data directory.
func archiveDataDir(dataDir, backupRoot, outPath string) error {
	absBackups, err := filepath.Abs(backupRoot)
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if abs, aerr := filepath.Abs(path); aerr == nil {
			if abs == absBackups || strings.HasPrefix(abs, absBackups+string(os.PathSeparator)) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, herr := tar.FileInfoHeader(info, "")
		if herr != nil {
			return herr
		}
		hdr.Name = filepath.Join(filepath.Base(dataDir), rel)
		if info.IsDir() {
			hdr.Name += "/"
			return tw.WriteHeader(hdr)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, ferr := os.Open(path)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		_, cerr := io.Copy(tw, f)
		return cerr
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Close()
}
