package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Merge describes how staged rows land in a table that already holds
// user data, e.g. discovery results flushed into affiliates.
type Merge struct {
	Table   string
	Columns []string
	// Key is the unique constraint rows are matched on, e.g. (user_id, domain).
	Key []string
	// Refresh lists the columns overwritten when a row already exists. Columns
	// not listed, such as an enriched email, keep their stored value. Empty
	// means existing rows are left untouched.
	Refresh []string
}

func (m Merge) validate() error {
	if m.Table == "" {
		return eris.New("db: merge: no table")
	}
	if len(m.Columns) == 0 {
		return eris.Errorf("db: merge into %s: no columns", m.Table)
	}
	if len(m.Key) == 0 {
		return eris.Errorf("db: merge into %s: no key columns", m.Table)
	}
	return nil
}

func (m Merge) stagingTable() pgx.Identifier {
	return pgx.Identifier{"staged_" + strings.ReplaceAll(m.Table, ".", "_")}
}

// statement builds the INSERT ... SELECT that moves staged rows into Table.
func (m Merge) statement() string {
	cols := quoteAndJoin(m.Columns)
	onConflict := "DO NOTHING"
	if len(m.Refresh) > 0 {
		set := make([]string, len(m.Refresh))
		for i, c := range m.Refresh {
			q := pgx.Identifier{c}.Sanitize()
			set[i] = q + " = EXCLUDED." + q
		}
		onConflict = "DO UPDATE SET " + strings.Join(set, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		identifier(m.Table).Sanitize(), cols, cols,
		m.stagingTable().Sanitize(), quoteAndJoin(m.Key), onConflict)
}

// MergeRows COPYs rows into a transaction-scoped staging table and merges
// them into m.Table in a single statement. It returns the number of rows
// inserted or refreshed.
func MergeRows(ctx context.Context, pool Pool, m Merge, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := m.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: merge: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	staging := m.stagingTable()
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		staging.Sanitize(), identifier(m.Table).Sanitize(),
	)); err != nil {
		return 0, eris.Wrapf(err, "db: merge: create staging table for %s", m.Table)
	}

	if _, err := tx.CopyFrom(ctx, staging, m.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: merge: copy %d rows for %s", len(rows), m.Table)
	}

	tag, err := tx.Exec(ctx, m.statement())
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge into %s", m.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: merge: commit tx")
	}
	return tag.RowsAffected(), nil
}

// identifier splits a schema-qualified name like "outreach.affiliates".
func identifier(table string) pgx.Identifier {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}
	}
	return pgx.Identifier{table}
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
