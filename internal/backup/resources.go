package backup

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/ayoubh/wardenctl/internal/logger"
)

// A run needs room for several simultaneous uncompressed exports plus
// the compressed and encrypted outputs.
const spaceFactor = 4

// Governor inspects disk, memory and CPU load before a run. Disk
// exhaustion is a hard precondition; memory and load only shape the
// ResourceProfile.
type Governor struct {
	log logger.Logger
}

// NewGovernor returns a Governor logging through log.
func NewGovernor(log logger.Logger) *Governor {
	return &Governor{log: log}
}

// Inspect checks destDir has room for a backup of dbSize bytes and
// builds the advisory profile. It fails with ErrPrecondition when free
// space is insufficient: partial writes under disk exhaustion corrupt
// output silently.
func (g *Governor) Inspect(destDir string, dbSize int64) (ResourceProfile, error) {
	var profile ResourceProfile

	usage, err := disk.Usage(destDir)
	if err != nil {
		return profile, fmt.Errorf("inspect disk at %q: %w", destDir, err)
	}
	required := requiredSpace(dbSize)
	if usage.Free < uint64(required) {
		return profile, fmt.Errorf(
			"%w: need %d bytes free at %q, have %d",
			ErrPrecondition, required, destDir, usage.Free,
		)
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		g.log.Warn("memory inspection failed, assuming streaming", "error", err.Error())
		profile.Streaming = true
	} else if needStreaming(int64(vm.Available), dbSize) {
		g.log.Info("low memory, streaming compression enabled",
			"available", vm.Available,
			"database_size", dbSize,
		)
		profile.Streaming = true
	}

	avg, loadErr := load.Avg()
	cores, coreErr := cpu.Counts(true)
	if loadErr != nil || coreErr != nil {
		// Load inspection is advisory; proceed at normal priority.
		g.log.Debug("load inspection unavailable")
		return profile, nil
	}
	if overloaded(avg.Load1, cores) {
		g.log.Info("system under load, using low priority",
			"load1", avg.Load1,
			"cores", cores,
		)
		profile.LowPriority = true
	}

	return profile, nil
}

// requiredSpace is the free-space precondition for a database of size bytes.
func requiredSpace(size int64) int64 {
	return size * spaceFactor
}

// needStreaming reports whether available memory is too small to buffer
// artifacts, relative to a quarter of the database size.
func needStreaming(available, dbSize int64) bool {
	return available < dbSize/4
}

// overloaded reports whether the 1-minute load average exceeds twice the
// core count.
func overloaded(load1 float64, cores int) bool {
	return load1 > 2*float64(cores)
}
