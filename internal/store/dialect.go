package store

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// dialect captures the handful of places where SQLite and Postgres differ.
type dialect struct {
	name      string // database/sql driver name
	autoID    string
	dropTable string // suffix for DROP TABLE
	numbered  bool   // $1 placeholders instead of ?
	types     map[string]string
	pragmas   []string
	maxConns  int
}

var dialects = map[string]dialect{
	"sqlite": {
		name:   "sqlite",
		autoID: "INTEGER PRIMARY KEY AUTOINCREMENT",
		types:  map[string]string{"INTEGER": "INTEGER", "REAL": "REAL", "TEXT": "TEXT"},
		pragmas: []string{
			"PRAGMA busy_timeout = 5000",
			"PRAGMA journal_mode = WAL",
		},
		// One connection: transactions and plain reads never contend for the file lock.
		maxConns: 1,
	},
	"pgx": {
		name:      "pgx",
		autoID:    "BIGSERIAL PRIMARY KEY",
		dropTable: " CASCADE",
		numbered:  true,
		types:     map[string]string{"INTEGER": "BIGINT", "REAL": "DOUBLE PRECISION", "TEXT": "TEXT"},
		maxConns:  4,
	},
}

func dialectFor(driver string) (dialect, error) {
	if driver == "" {
		driver = "sqlite"
	}
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
	return d, nil
}

// quote quotes an identifier. Both backends accept double quotes, which
// matters for tables such as "drop".
func (d dialect) quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (d dialect) quoteAll(idents []string) string {
	q := make([]string, len(idents))
	for i, id := range idents {
		q[i] = d.quote(id)
	}
	return strings.Join(q, ", ")
}

func (d dialect) columnType(portable string) (string, error) {
	t, ok := d.types[strings.ToUpper(portable)]
	if !ok {
		return "", fmt.Errorf("unsupported column type %q", portable)
	}
	return t, nil
}

// rebind rewrites ? placeholders for drivers that number them.
// Queries built here never carry a literal question mark.
func (d dialect) rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns "(?, ?, ...)" with n marks.
func placeholders(n int) string {
	if n <= 0 {
		return "()"
	}
	return "(" + strings.Repeat("?, ", n-1) + "?)"
}
