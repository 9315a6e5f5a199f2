package backup

import "errors"

// Failure severities follow one policy: preconditions abort before any
// work, fatal errors abort the current run, degraded failures are
// isolated and recorded, advisory failures are logged and ignored.
// Lower layers return plain errors; the Runner decides severity by
// which stage produced them.
var (
	// ErrPrecondition aborts a run before any artifact file is created
	// (insufficient disk space, missing external command).
	ErrPrecondition = errors.New("backup precondition failed")

	// ErrAllFormatsFailed means the run produced zero usable artifacts.
	// The manifest is still written, but the run as a whole failed.
	ErrAllFormatsFailed = errors.New("no backup format succeeded")

	// ErrPartial means at least one format failed while at least one
	// succeeded. The run is usable but degraded.
	ErrPartial = errors.New("backup completed with failed formats")

	// ErrVerification marks an artifact that was produced but did not
	// match the source; it is discarded, never packaged.
	ErrVerification = errors.New("artifact verification failed")
)
