package backup

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ayoubh/wardenctl/internal/logger"
)

// gpgCommand is the external symmetric encryption utility. Its presence
// is checked as a precondition before any artifact is produced.
const gpgCommand = "gpg"

// Packager compresses and encrypts finished artifacts. The passphrase
// travels to gpg through a one-time credential file, never through the
// command line.
type Packager struct {
	log        logger.Logger
	passphrase string
	streaming  bool
	timeout    time.Duration
}

// NewPackager returns a Packager. streaming selects source-to-destination
// compression without buffering whole artifacts in memory.
func NewPackager(log logger.Logger, passphrase string, streaming bool, timeout time.Duration) *Packager {
	return &Packager{
		log:        log,
		passphrase: passphrase,
		streaming:  streaming,
		timeout:    timeout,
	}
}

// Package compresses and encrypts one artifact in place; on success
// art.Packaged names the final .gpg file and no plaintext intermediate
// remains on disk. On failure the partial encrypted output is removed
// but the last intermediate is kept for diagnosis.
func (p *Packager) Package(ctx context.Context, art *ExportArtifact) error {
	if !art.OK() {
		return nil
	}
	var (
		compressed string
		err        error
	)
	if art.Dir {
		compressed, err = p.compressDir(art.Path)
	} else {
		compressed, err = p.compressFile(art.Path)
	}
	if err != nil {
		return fmt.Errorf("compress %s: %w", art.Path, err)
	}

	encrypted, err := p.Encrypt(ctx, compressed)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", compressed, err)
	}
	art.Packaged = encrypted
	p.log.Info("artifact packaged", "format", art.Format, "path", encrypted)
	return nil
}

// compressFile gzips path into path.gz and removes the plaintext. In
// streaming mode bytes flow straight from source to destination;
// otherwise the file is read whole.
func (p *Packager) compressFile(path string) (string, error) {
	outPath := path + ".gz"

	if !p.streaming {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		out, err := os.Create(outPath)
		if err != nil {
			return "", err
		}
		gz := gzip.NewWriter(out)
		if _, err := gz.Write(data); err != nil {
			out.Close()
			os.Remove(outPath)
			return "", err
		}
		if err := gz.Close(); err != nil {
			out.Close()
			os.Remove(outPath)
			return "", err
		}
		if err := out.Close(); err != nil {
			os.Remove(outPath)
			return "", err
		}
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("remove plaintext: %w", err)
		}
		return outPath, nil
	}

	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		out.Close()
		os.Remove(outPath)
		return "", err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(outPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return "", err
	}
	in.Close()
	// The stream is complete; the plaintext goes immediately.
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("remove plaintext: %w", err)
	}
	return outPath, nil
}

// compressDir tars and gzips a directory artifact (the CSV set) into
// dir.tar.gz, then removes the directory.
func (p *Packager) compressDir(dir string) (string, error) {
	outPath := dir + ".tar.gz"
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	if err := tarTree(tw, dir, filepath.Base(dir)); err != nil {
		tw.Close()
		gz.Close()
		out.Close()
		os.Remove(outPath)
		return "", err
	}
	if err := tw.Close(); err != nil {
		gz.Close()
		out.Close()
		os.Remove(outPath)
		return "", err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(outPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return "", err
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("remove plaintext directory: %w", err)
	}
	return outPath, nil
}

// tarTree appends every regular file under root to tw, with paths
// rooted at prefix.
func tarTree(tw *tar.Writer, root, prefix string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.Join(prefix, rel)
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
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
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// Encrypt runs gpg in batch mode over path with an AES-256 symmetric
// cipher. On success the plaintext and the credential file are securely
// erased; on failure the partial .gpg output is removed and the
// plaintext retained for investigation.
func (p *Packager) Encrypt(ctx context.Context, path string) (string, error) {
	outPath := path + ".gpg"

	credFile, err := writeCredentialFile(p.passphrase)
	if err != nil {
		return "", err
	}
	defer func() {
		secureErase(credFile)
		os.RemoveAll(filepath.Dir(credFile))
	}()

	ectx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ectx, gpgCommand,
		"--batch", "--yes",
		"--pinentry-mode", "loopback",
		"--passphrase-file", credFile,
		"--symmetric",
		"--cipher-algo", "AES256",
		"--output", outPath,
		path,
	)
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("gpg failed: %w", err)
	}

	if err := secureErase(path); err != nil {
		p.log.Warn("secure erase of plaintext failed",
			"path", path,
			"error", err.Error(),
		)
	}
	return outPath, nil
}

// writeCredentialFile puts the passphrase in a process-private file under
// a freshly created 0700 temp directory.
func writeCredentialFile(passphrase string) (string, error) {
	dir, err := os.MkdirTemp("", "wardenctl-cred-")
	if err != nil {
		return "", fmt.Errorf("create credential dir: %w", err)
	}
	path := filepath.Join(dir, "passphrase")
	if err := os.WriteFile(path, []byte(passphrase), 0o600); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("write credential file: %w", err)
	}
	return path, nil
}

// secureErase overwrites path with zeros before deleting it, falling
// back to a plain delete when the overwrite is not possible. Best effort
// on journaling filesystems, but strictly better than leaving the bytes.
func secureErase(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return os.Remove(path)
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return os.Remove(path)
	}
	zeros := make([]byte, 64*1024)
	var written int64
	for written < info.Size() {
		chunk := int64(len(zeros))
		if remaining := info.Size() - written; remaining < chunk {
			chunk = remaining
		}
		if _, err := f.Write(zeros[:chunk]); err != nil {
			break
		}
		written += chunk
	}
	f.Sync()
	f.Close()
	return os.Remove(path)
}
