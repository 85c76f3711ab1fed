// Package source reads legacy rows through database/sql.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"data-migration/migrate"
)

var _ migrate.Source = (*SQL)(nil)

// SQL runs unit queries against a legacy database. Rows are streamed; the
// total is obtained up front with a COUNT(*) over the same query.
type SQL struct {
	db    *sql.DB
	count bool
}

// Option configures a SQL source.
type Option func(*SQL)

// WithoutCount skips the row count query; totals are then unknown.
func WithoutCount() Option { return func(s *SQL) { s.count = false } }

func New(db *sql.DB, opts ...Option) *SQL {
	s := &SQL{db: db, count: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query executes query and returns a cursor over its rows.
func (s *SQL) Query(ctx context.Context, query string) (migrate.Cursor, error) {
	total := -1
	if s.count {
		total = s.countRows(ctx, query)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	return &cursor{rows: rows, cols: cols, total: total}, nil
}

// countRows is best effort: a query that cannot be wrapped leaves the total
// unknown.
func (s *SQL) countRows(ctx context.Context, query string) int {
	q := strings.TrimRight(strings.TrimSpace(query), ";")
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS source_rows", q)).Scan(&n)
	if err != nil {
		return -1
	}
	return n
}

type cursor struct {
	rows  *sql.Rows
	cols  []string
	total int
	row   migrate.Row
	err   error
}

func (c *cursor) Columns() []string { return c.cols }
func (c *cursor) Count() int        { return c.total }
func (c *cursor) Row() migrate.Row  { return c.row }

func (c *cursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	values := make([]any, len(c.cols))
	ptrs := make([]any, len(c.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		c.err = fmt.Errorf("failed to scan row: %w", err)
		return false
	}

	row := make(migrate.Row, len(c.cols))
	for i, col := range c.cols {
		// drivers hand out text as []byte that is reused between rows
		if b, ok := values[i].([]byte); ok {
			row[col] = string(b)
			continue
		}
		row[col] = values[i]
	}
	c.row = row
	return true
}

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *cursor) Close() error { return c.rows.Close() }
