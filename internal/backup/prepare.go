package backup

import (
	"context"
	"time"

	"github.com/ayoubh/wardenctl/internal/logger"
	"github.com/ayoubh/wardenctl/internal/sqlite"
)

// checkpointThreshold is the write-ahead log size above which a forced
// checkpoint is worth the pause it causes writers.
const checkpointThreshold = 100 * 1024 * 1024

// Preparer puts the database into a compact, consistent state before
// the exporters read it.
type Preparer struct {
	log logger.Logger
}

// NewPreparer returns a Preparer logging through log.
func NewPreparer(log logger.Logger) *Preparer {
	return &Preparer{log: log}
}

// Prepare detects the journaling mode and, when write-ahead logging is
// active with a log over the threshold, forces a RESTART checkpoint
// bounded by timeout. Checkpoint failure is non-fatal: a slower but
// still-valid backup beats aborting.
func (p *Preparer) Prepare(ctx context.Context, db *sqlite.DB, timeout time.Duration) (string, error) {
	mode, err := db.JournalMode(ctx)
	if err != nil {
		return "", err
	}
	p.log.Info("journal mode detected", "mode", mode, "wal_size", db.WALSize())

	if mode != "wal" {
		return mode, nil
	}
	walSize := db.WALSize()
	if walSize <= checkpointThreshold {
		p.log.Debug("wal below checkpoint threshold, skipping",
			"wal_size", walSize,
			"threshold", checkpointThreshold,
		)
		return mode, nil
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := db.CheckpointRestart(cctx); err != nil {
		p.log.Warn("wal checkpoint failed, continuing",
			"error", err.Error(),
			"wal_size", walSize,
		)
		return mode, nil
	}
	p.log.Info("wal checkpoint completed",
		"duration", time.Since(start).String(),
		"wal_size_before", walSize,
		"wal_size_after", db.WALSize(),
	)
	return mode, nil
}
