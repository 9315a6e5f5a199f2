package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ayoubh/wardenctl/internal/sqlite"
)

// jsonExport is the root object of the structured export: the full
// schema plus every table's rows keyed by table name.
type jsonExport struct {
	Schema []sqlite.SchemaObject       `json:"schema"`
	Data   map[string][]map[string]any `json:"data"`
}

// exportJSON emits one structured document. A per-table read failure
// degrades that table to an empty array instead of aborting the export;
// a partially useful document beats none.
func exportJSON(ctx context.Context, src *sqlite.DB, art *ExportArtifact) error {
	schema, err := src.SchemaObjects(ctx)
	if err != nil {
		return err
	}
	if schema == nil {
		schema = []sqlite.SchemaObject{}
	}

	doc := jsonExport{
		Schema: schema,
		Data:   map[string][]map[string]any{},
	}

	tables, err := src.UserTables(ctx)
	if err != nil {
		return err
	}
	for _, table := range tables {
		rows, err := tableRowObjects(ctx, src, table)
		if err != nil {
			// Degrade gracefully: record the table as empty.
			doc.Data[table] = []map[string]any{}
			continue
		}
		doc.Data[table] = rows
	}

	f, err := os.Create(art.Path)
	if err != nil {
		return fmt.Errorf("create json export: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode json export: %w", err)
	}
	return f.Close()
}

// tableRowObjects reads every row of table as a column→value object.
func tableRowObjects(ctx context.Context, src *sqlite.DB, table string) ([]map[string]any, error) {
	cols, err := src.TableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	rows, err := src.QueryRows(ctx, "SELECT * FROM "+sqlite.QuoteIdent(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []map[string]any{}
	values := make([]any, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, err
		}
		obj := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				// JSON has no binary type; hex keeps cells readable.
				obj[c] = fmt.Sprintf("%x", b)
				continue
			}
			obj[c] = values[i]
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}
