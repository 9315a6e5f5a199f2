package backup

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ayoubh/wardenctl/internal/logger"
)

// rcloneCommand hands finished archives to an external sync tool. The
// hand-off is strictly best-effort: rclone missing or failing never
// blocks the critical path.
const rcloneCommand = "rclone"

// SyncRun copies the run directory to the configured rclone remote.
// Returns true when the copy succeeded.
func SyncRun(ctx context.Context, log logger.Logger, runDir, remote string) bool {
	if remote == "" {
		return false
	}
	if _, err := exec.LookPath(rcloneCommand); err != nil {
		log.Warn("rclone not installed, skipping off-host sync", "remote", remote)
		return false
	}

	sctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	dest := remote + "/" + filepath.Base(runDir)
	cmd := exec.CommandContext(sctx, rcloneCommand, "copy", runDir, dest)
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr

	log.Info("off-host sync started", "source", runDir, "dest", dest)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		log.Warn("off-host sync failed", "error", err.Error())
		return false
	}
	log.Info("off-host sync completed", "duration", time.Since(start).String())
	return true
}
