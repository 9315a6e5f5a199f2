package backup

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ayoubh/wardenctl/internal/logger"
)

// staleTempMaxAge is how long an orphaned temporary from an interrupted
// run may linger before cleanup removes it.
const staleTempMaxAge = time.Hour

// Prune removes run directories under dbDir whose token timestamp is
// older than days, plus stale temporary files from interrupted runs.
// A non-positive days disables retention entirely: a zero cutoff would
// expire the run that was just written. Retention is best-effort: a
// prune failure never fails the run that triggered it.
func Prune(log logger.Logger, dbDir, tokenFormat string, days int) int {
	if days <= 0 {
		log.Debug("retention disabled, skipping prune", "days", days)
		return 0
	}
	entries, err := os.ReadDir(dbDir)
	if err != nil {
		log.Warn("retention scan failed", "dir", dbDir, "error", err.Error())
		return 0
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	removed := 0
	for _, entry := range entries {
		path := filepath.Join(dbDir, entry.Name())

		if !entry.IsDir() {
			if strings.HasSuffix(entry.Name(), ".tmp") {
				if info, err := entry.Info(); err == nil &&
					time.Since(info.ModTime()) > staleTempMaxAge {
					if err := os.Remove(path); err == nil {
						log.Info("removed stale temporary", "path", path)
					}
				}
			}
			continue
		}

		stamp, err := time.ParseInLocation(tokenFormat, entry.Name(), time.Local)
		if err != nil {
			// Not a run directory; leave it alone.
			continue
		}
		if stamp.After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			log.Warn("retention removal failed", "path", path, "error", err.Error())
			continue
		}
		log.Info("expired run removed", "path", path)
		removed++
	}
	return removed
}
