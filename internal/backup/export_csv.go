package backup

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ayoubh/wardenctl/internal/sqlite"
)

// csvManifestName is the sibling file listing what the tabular set contains.
const csvManifestName = "csv-manifest.json"

// csvManifest describes the tabular export for whoever opens it in a
// spreadsheet later. The CSV set is for ad-hoc recovery, not
// full-fidelity restore.
type csvManifest struct {
	Tables     []string `json:"tables"`
	HeaderRow  bool     `json:"header_row"`
	Encoding   string   `json:"encoding"`
	NullString string   `json:"null_string"`
}

// exportCSV writes one CSV file per non-empty user table into the
// artifact directory, header row included, plus the manifest.
func exportCSV(ctx context.Context, src *sqlite.DB, art *ExportArtifact) error {
	if err := os.MkdirAll(art.Path, 0o755); err != nil {
		return fmt.Errorf("create csv directory: %w", err)
	}

	tables, err := src.UserTables(ctx)
	if err != nil {
		return err
	}

	manifest := csvManifest{
		Tables:     []string{},
		HeaderRow:  true,
		Encoding:   "utf-8",
		NullString: "",
	}
	for _, table := range tables {
		n, err := src.RowCount(ctx, table)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if err := exportTableCSV(ctx, src, table, filepath.Join(art.Path, table+".csv")); err != nil {
			return fmt.Errorf("table %q: %w", table, err)
		}
		manifest.Tables = append(manifest.Tables, table)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode csv manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(art.Path, csvManifestName), data, 0o644); err != nil {
		return fmt.Errorf("write csv manifest: %w", err)
	}
	return nil
}

func exportTableCSV(ctx context.Context, src *sqlite.DB, table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)

	cols, err := src.TableColumns(ctx, table)
	if err != nil {
		return err
	}
	if err := w.Write(cols); err != nil {
		return err
	}

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
	record := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return err
		}
		for i, v := range values {
			record[i] = csvField(v)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// csvField renders a scanned value as a CSV cell. NULL becomes the
// empty string, binary data is hex-encoded.
func csvField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return fmt.Sprintf("%x", x)
	default:
		return fmt.Sprint(x)
	}
}
