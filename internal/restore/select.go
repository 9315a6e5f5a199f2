package restore

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ayoubh/wardenctl/internal/backup"
)

// SelectArchive returns the most recent encrypted archive of format
// under dbDir. Run tokens are timestamps, so lexical order is
// chronological order.
func SelectArchive(dbDir string, format backup.Format) (string, error) {
	pattern := filepath.Join(dbDir, "*", "db-"+string(format)+"-*.gpg")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: format %q under %s", ErrNoArchive, format, dbDir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// formatOf infers the export format from the archive filename
// (db-<format>-<timestamp>...). Longer format tokens are checked first:
// "sqlite3" must win over its prefix "sql".
func formatOf(path string) backup.Format {
	name := filepath.Base(path)
	ordered := []backup.Format{
		backup.FormatBinary, // "sqlite3" before its prefix "sql"
		backup.FormatSQL,
		backup.FormatCSV,
		backup.FormatJSON,
		backup.FormatSchema,
	}
	for _, f := range ordered {
		if strings.HasPrefix(name, "db-"+string(f)+"-") {
			return f
		}
	}
	return ""
}
