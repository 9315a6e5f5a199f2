package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scratchDB(t *testing.T) *DB {
	t.Helper()
	db, err := Create(filepath.Join(t.TempDir(), "scratch.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestReplayScriptBasic(t *testing.T) {
	ctx := context.Background()
	db := scratchDB(t)

	script := `-- a dump header
CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT);

INSERT INTO notes (body) VALUES ('hello');
INSERT INTO notes (body) VALUES ('world');
`
	require.NoError(t, ReplayScript(ctx, db, strings.NewReader(script)))

	n, err := db.RowCount(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestReplayScriptMultiLineString(t *testing.T) {
	ctx := context.Background()
	db := scratchDB(t)

	// A string literal spanning lines, containing a semicolon and what
	// looks like a comment. None of it may terminate the statement early.
	script := `CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT);
INSERT INTO notes (body) VALUES ('line one;
-- not a comment
line ''two''');
`
	require.NoError(t, ReplayScript(ctx, db, strings.NewReader(script)))

	rows, err := db.QueryRows(ctx, "SELECT body FROM notes")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var body string
	require.NoError(t, rows.Scan(&body))
	assert.Equal(t, "line one;\n-- not a comment\nline 'two'", body)
}

func TestReplayScriptTransactionSpansOneSession(t *testing.T) {
	ctx := context.Background()
	db := scratchDB(t)
	// Force the pool to rotate connections between statements; BEGIN and
	// COMMIT must still land on the same session.
	db.conn.SetMaxIdleConns(0)

	script := `PRAGMA foreign_keys=OFF;
BEGIN TRANSACTION;
CREATE TABLE notes (id INTEGER PRIMARY KEY);
INSERT INTO notes (id) VALUES (1);
COMMIT;
PRAGMA foreign_keys=ON;
`
	require.NoError(t, ReplayScript(ctx, db, strings.NewReader(script)))

	n, err := db.RowCount(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReplayScriptTrailingFragment(t *testing.T) {
	ctx := context.Background()
	db := scratchDB(t)

	script := `CREATE TABLE notes (id INTEGER PRIMARY KEY);
INSERT INTO notes (id) VALUES (1)`
	err := ReplayScript(ctx, db, strings.NewReader(script))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mid-statement")
}

func TestReplayScriptBadStatement(t *testing.T) {
	ctx := context.Background()
	db := scratchDB(t)

	script := `CREATE TABLE notes (id INTEGER PRIMARY KEY);
INSERT INTO missing (id) VALUES (1);
`
	err := ReplayScript(ctx, db, strings.NewReader(script))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 2")
}
