package backup

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ayoubh/wardenctl/internal/sqlite"
)

// exportSQL emits a portable, transactionally wrapped statement dump:
// tables with their rows first, then indexes, views and triggers.
// Foreign-key enforcement is disabled during load and re-enabled after,
// so insert order never matters.
func exportSQL(ctx context.Context, src *sqlite.DB, art *ExportArtifact) error {
	out, err := os.Create(art.Path)
	if err != nil {
		return fmt.Errorf("create sql dump: %w", err)
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	version, err := src.Version(ctx)
	if err != nil {
		return err
	}
	size, err := src.Size()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "-- Portable dump of %s\n", filepath.Base(src.Path()))
	fmt.Fprintf(w, "-- SQLite %s, created %s\n", version, time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "-- Source size: %d bytes\n", size)
	fmt.Fprintf(w, "-- Load with any SQLite >= 3.x: sqlite3 new.sqlite3 < this file\n\n")

	fmt.Fprintln(w, "PRAGMA foreign_keys=OFF;")
	fmt.Fprintln(w, "BEGIN TRANSACTION;")

	objects, err := src.SchemaObjects(ctx)
	if err != nil {
		return err
	}
	var rest []sqlite.SchemaObject
	for _, o := range objects {
		if o.Kind != "table" {
			rest = append(rest, o)
			continue
		}
		fmt.Fprintf(w, "%s;\n", o.Definition)
		if err := dumpTableRows(ctx, src, w, o.Name); err != nil {
			return fmt.Errorf("dump rows of %q: %w", o.Name, err)
		}
	}
	for _, o := range rest {
		fmt.Fprintf(w, "%s;\n", o.Definition)
	}

	fmt.Fprintln(w, "COMMIT;")
	fmt.Fprintln(w, "PRAGMA foreign_keys=ON;")
	fmt.Fprintln(w, "-- After loading, run: PRAGMA integrity_check;")

	if err := w.Flush(); err != nil {
		return fmt.Errorf("write sql dump: %w", err)
	}
	return out.Close()
}

// dumpTableRows writes one INSERT statement per row of table.
func dumpTableRows(ctx context.Context, src *sqlite.DB, w io.Writer, table string) error {
	cols, err := src.TableColumns(ctx, table)
	if err != nil {
		return err
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = sqlite.QuoteIdent(c)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES (",
		sqlite.QuoteIdent(table), strings.Join(quoted, ", "))

	rows, err := src.QueryRows(ctx, "SELECT * FROM "+sqlite.QuoteIdent(table))
	if err != nil {
		return err
	}
	defer rows.Close()

	values := make([]any, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	rendered := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return err
		}
		for i, v := range values {
			rendered[i] = sqlLiteral(v)
		}
		if _, err := fmt.Fprintf(w, "%s%s);\n", prefix, strings.Join(rendered, ", ")); err != nil {
			return err
		}
	}
	return rows.Err()
}

// sqlLiteral renders a scanned value as a SQLite literal.
func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case []byte:
		return "X'" + hex.EncodeToString(x) + "'"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case time.Time:
		return "'" + x.UTC().Format(time.RFC3339Nano) + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(x), "'", "''") + "'"
	}
}
