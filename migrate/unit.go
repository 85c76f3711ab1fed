package migrate

import (
	"context"
	"maps"
	"slices"
)

// Hooks are the optional extension points of a unit. Nil hooks are skipped.
type Hooks struct {
	// BeforeAll and AfterAll run once around a fresh run. Update runs do
	// not call them.
	BeforeAll func(ctx context.Context, t Target) error
	AfterAll  func(ctx context.Context, t Target) error

	BeforeTransformation func(ctx context.Context, row Row) error
	// BeforeSave is the last chance to change the unsaved record.
	BeforeSave func(ctx context.Context, instance any, row Row) error
	AfterSave  func(ctx context.Context, instance any, row Row) error

	// UpdateExisting receives the untransformed row for a record that is
	// already present. It may be called again with the same data on every
	// later update run and must be idempotent.
	UpdateExisting func(ctx context.Context, t Target, existing any, row Row) error

	// ErrorCreatingInstance is called instead of aborting when a row fails.
	// Returning nil skips the row, returning an error aborts the run.
	ErrorCreatingInstance func(err error, row Row) error

	// RowCount overrides the total shown by progress reporting.
	RowCount func(cur Cursor) int
}

// Unit is the declarative definition of one migration job: one source query
// turned into records of one target type.
type Unit struct {
	// Name identifies the unit in the ledger and in DependsOn lists.
	Name  string
	Model any
	Query string
	// Columns maps source columns to descriptors. Columns without a
	// descriptor are passed through unchanged.
	Columns   map[string]ColumnDescriptor
	DependsOn []string

	// AllowUpdates turns re-runs into create-missing/update-existing runs.
	// SearchAttr is then required and names a unique target field whose
	// value is read from the source column of the same name.
	AllowUpdates bool
	SearchAttr   string

	// Abstract units serve as bases for Derive and are never executed.
	Abstract bool

	Hooks Hooks
}

// Derive returns a concrete copy of u under a new name. Columns and
// dependencies are copied so the derived unit can be changed freely.
func (u Unit) Derive(name string) Unit {
	d := u
	d.Name = name
	d.Abstract = false
	d.Columns = maps.Clone(u.Columns)
	d.DependsOn = slices.Clone(u.DependsOn)
	return d
}

func (u *Unit) String() string { return u.Name }

// columnOrder lists the descriptor columns in a stable order.
func (u *Unit) columnOrder() []string {
	return slices.Sorted(maps.Keys(u.Columns))
}
