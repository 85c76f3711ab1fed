package migrate

import "context"

// Row is one source row keyed by column name.
type Row map[string]any

// Cursor iterates the rows of one source query in source order.
type Cursor interface {
	Columns() []string
	Next() bool
	Row() Row
	Err() error
	Close() error
	// Count returns the number of rows, or -1 when unknown.
	Count() int
}

// Source executes read-only queries against the legacy database.
type Source interface {
	Query(ctx context.Context, query string) (Cursor, error)
}

// Target is the structured record store units write into.
type Target interface {
	// Construct builds an unsaved record of model's type from field values.
	// A relation field accepts either a record or a raw identifier.
	Construct(model any, fields map[string]any) (any, error)
	// Persist inserts the record, or updates it when its primary key exists.
	Persist(ctx context.Context, instance any) error
	// Lookup finds a single record of model's type with attr = value.
	Lookup(ctx context.Context, model any, attr string, value any) (any, bool, error)
	// AssociateMany links instance to every related value through field.
	AssociateMany(ctx context.Context, instance any, field string, related []any) error
	// BulkLoad returns all records of model's type keyed by keyAttr. With
	// byID the values are primary keys instead of records.
	BulkLoad(ctx context.Context, model any, keyAttr string, byID bool) (map[any]any, error)
	// Atomic runs fn in a nested scope that is undone when fn fails.
	Atomic(ctx context.Context, fn func(Target) error) error
}

// Ledger records which units have completed.
type Ledger interface {
	Applied(ctx context.Context, unit string) (bool, error)
	Record(ctx context.Context, unit string) error
}

// Tx is the single transactional scope of a run.
type Tx interface {
	Target
	Ledger
	Commit() error
	Rollback() error
}

// Database opens run transactions.
type Database interface {
	Begin(ctx context.Context) (Tx, error)
}
