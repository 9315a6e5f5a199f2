package sqlite

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// ReplayScript executes a SQL dump against the database, statement by
// statement. It understands the dumps this tool produces: line-oriented,
// "--" comments between statements, string literals with doubled quotes
// possibly spanning lines.
func ReplayScript(ctx context.Context, db *DB, r io.Reader) error {
	// The dump carries BEGIN/COMMIT and per-connection pragmas; every
	// statement must run on the same session, not wherever the pool
	// lands.
	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	scanner := bufio.NewScanner(r)
	// Attachment metadata rows can be long; give the scanner room.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		stmt     strings.Builder
		inString bool
		executed int
	)
	for scanner.Scan() {
		line := scanner.Text()
		if stmt.Len() == 0 && !inString {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
		}
		stmt.WriteString(line)
		stmt.WriteByte('\n')

		for _, ch := range line {
			if ch == '\'' {
				inString = !inString
			}
		}
		if inString {
			continue
		}
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			if _, err := conn.ExecContext(ctx, stmt.String()); err != nil {
				return fmt.Errorf("statement %d: %w", executed+1, err)
			}
			executed++
			stmt.Reset()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	if rest := strings.TrimSpace(stmt.String()); rest != "" {
		return fmt.Errorf("script ends mid-statement: %.60q", rest)
	}
	return nil
}
