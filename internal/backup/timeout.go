package backup

import "time"

const (
	minTimeout = 30 * time.Second
	maxTimeout = 600 * time.Second

	// One extra second per 100MB of database and per 50MB of write-ahead
	// log: dump and checkpoint cost scales with data volume.
	dbBytesPerSecond  = 100 * 1024 * 1024
	walBytesPerSecond = 50 * 1024 * 1024
)

// Timeout computes the operation timeout for a database of dbSize bytes
// with a write-ahead log of walSize bytes (0 if absent). The result is
// monotonically non-decreasing in both inputs and clamped to
// [30s, 600s].
func Timeout(dbSize, walSize int64) time.Duration {
	t := minTimeout
	t += time.Duration(dbSize/dbBytesPerSecond) * time.Second
	t += time.Duration(walSize/walBytesPerSecond) * time.Second
	if t > maxTimeout {
		return maxTimeout
	}
	return t
}
