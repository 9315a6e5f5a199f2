package backup

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ayoubh/wardenctl/internal/logger"
	"github.com/ayoubh/wardenctl/internal/sqlite"
)

// exportFunc produces one representation of src at art.Path. Exporters
// only read the source; each is idempotent and independent of the others.
type exportFunc func(ctx context.Context, src *sqlite.DB, art *ExportArtifact) error

// exporters maps each format to its producer. Kept as a function so a
// test can run a doctored map through exportAll.
func exporters() map[Format]exportFunc {
	return map[Format]exportFunc{
		FormatBinary: exportBinary,
		FormatSQL:    exportSQL,
		FormatCSV:    exportCSV,
		FormatJSON:   exportJSON,
		FormatSchema: exportSchema,
	}
}

// ExportAll runs the five exporters against the prepared source and
// records one artifact per format on the run. One exporter's failure
// never blocks the others. Under low priority the exporters run one at
// a time; otherwise concurrently, each against its own output path.
func ExportAll(ctx context.Context, log logger.Logger, src *sqlite.DB, run *BackupRun) {
	exportAll(ctx, log, src, run, exporters())
}

func exportAll(
	ctx context.Context,
	log logger.Logger,
	src *sqlite.DB,
	run *BackupRun,
	fns map[Format]exportFunc,
) {
	run.Artifacts = make([]*ExportArtifact, 0, len(Formats))
	for _, format := range Formats {
		art := &ExportArtifact{
			Format: format,
			Path:   filepath.Join(run.Dir, ArtifactName(format, run.Token)),
			Dir:    format == FormatCSV,
		}
		run.Artifacts = append(run.Artifacts, art)
	}

	var wg sync.WaitGroup
	for _, art := range run.Artifacts {
		fn, ok := fns[art.Format]
		if !ok {
			art.Err = fmt.Errorf("no exporter for format %q", art.Format)
			continue
		}

		runOne := func(art *ExportArtifact, fn exportFunc) {
			ectx, cancel := context.WithTimeout(ctx, run.Timeout)
			defer cancel()

			log.Info("export started", "format", art.Format, "path", art.Path)
			start := time.Now()
			if err := fn(ectx, src, art); err != nil {
				art.Err = fmt.Errorf("export %s: %w", art.Format, err)
				log.Error("export failed",
					"format", art.Format,
					"error", err.Error(),
				)
				// Leave nothing half-written behind a failed export.
				os.RemoveAll(art.Path)
				return
			}
			log.Info("export completed",
				"format", art.Format,
				"path", art.Path,
				"duration", time.Since(start).String(),
			)
		}

		if run.Profile.LowPriority {
			runOne(art, fn)
			continue
		}
		wg.Add(1)
		go func(art *ExportArtifact, fn exportFunc) {
			defer wg.Done()
			runOne(art, fn)
		}(art, fn)
	}
	wg.Wait()
}

// exportBinary produces a byte-identical, directly restorable database
// file via an atomic VACUUM INTO snapshot.
func exportBinary(ctx context.Context, src *sqlite.DB, art *ExportArtifact) error {
	// VACUUM INTO refuses to overwrite; stale targets from an
	// interrupted run would otherwise wedge every later backup.
	if err := os.Remove(art.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear stale snapshot target: %w", err)
	}
	return src.VacuumInto(ctx, art.Path)
}

// exportSchema emits structural definitions only: tables, indexes,
// triggers, views, plus the engine pragmas a structure-only recreation
// needs to carry over.
func exportSchema(ctx context.Context, src *sqlite.DB, art *ExportArtifact) error {
	out, err := os.Create(art.Path)
	if err != nil {
		return fmt.Errorf("create schema dump: %w", err)
	}
	defer out.Close()
	f := bufio.NewWriter(out)

	version, err := src.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(f, "-- Schema-only dump of %s\n", filepath.Base(src.Path()))
	fmt.Fprintf(f, "-- SQLite %s, created %s\n\n", version, time.Now().UTC().Format(time.RFC3339))

	for _, name := range []string{"user_version", "application_id", "page_size", "auto_vacuum"} {
		value, err := src.Pragma(ctx, name)
		if err != nil {
			return err
		}
		if value != "" && value != "0" {
			fmt.Fprintf(f, "PRAGMA %s = %s;\n", name, value)
		}
	}
	fmt.Fprintln(f)

	objects, err := src.SchemaObjects(ctx)
	if err != nil {
		return err
	}
	for _, o := range objects {
		fmt.Fprintf(f, "-- %s %s\n%s;\n\n", o.Kind, o.Name, o.Definition)
	}
	if err := f.Flush(); err != nil {
		return fmt.Errorf("write schema dump: %w", err)
	}
	return out.Close()
}
