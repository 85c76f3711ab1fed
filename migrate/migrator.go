package migrate

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"data-migration/metrics"
)

// Migrator runs a set of units in dependency order inside one transaction.
type Migrator struct {
	db       Database
	source   Source
	units    []*Unit
	log      *log.Logger
	errOut   io.Writer
	progress ProgressFactory
	metrics  *metrics.Recorder
}

// MigratorOption configures a Migrator.
type MigratorOption func(*Migrator)

// WithLogger sets the logger used for unit notices.
func WithLogger(l *log.Logger) MigratorOption { return func(m *Migrator) { m.log = l } }

// WithErrorOutput sets where errors are reported. Defaults to stderr.
func WithErrorOutput(w io.Writer) MigratorOption { return func(m *Migrator) { m.errOut = w } }

// WithProgress sets the progress renderer. Defaults to LineProgress(os.Stdout).
func WithProgress(f ProgressFactory) MigratorOption { return func(m *Migrator) { m.progress = f } }

// WithMetrics records run counters into rec.
func WithMetrics(rec *metrics.Recorder) MigratorOption { return func(m *Migrator) { m.metrics = rec } }

// NewMigrator builds a migrator over a static list of units. Units are
// copied; later changes to the slice do not affect the migrator.
func NewMigrator(db Database, source Source, units []Unit, opts ...MigratorOption) *Migrator {
	m := &Migrator{
		db:       db,
		source:   source,
		log:      log.Default(),
		errOut:   os.Stderr,
		progress: LineProgress(os.Stdout),
	}
	for i := range units {
		u := units[i]
		m.units = append(m.units, &u)
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.progress == nil {
		m.progress = func(string) Progress { return nopProgress{} }
	}
	return m
}

// Sorted validates every unit and returns the concrete units in execution
// order. It never touches a database.
func (m *Migrator) Sorted() ([]*Unit, error) {
	if err := validateUnits(m.units); err != nil {
		return nil, err
	}
	return SortByDependency(m.units)
}

// Report summarizes one run.
type Report struct {
	RunID     string
	Committed bool
	Units     []UnitReport
}

// Run executes every concrete unit. With commit false the transaction is
// rolled back at the end whatever happened; with commit true it is committed
// only if every unit succeeded. Any error rolls back the whole run.
func (m *Migrator) Run(ctx context.Context, commit bool) (*Report, error) {
	started := time.Now()
	report := &Report{RunID: uuid.NewString()}
	kind := "dry"
	if commit {
		kind = "commit"
	}

	ordered, err := m.Sorted()
	if err != nil {
		fmt.Fprintf(m.errOut, "Error: %v\n", err)
		m.metrics.RunFinished("rolled_back", time.Since(started))
		return report, err
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		fmt.Fprintf(m.errOut, "Error: failed to start transaction: %v\n", err)
		return report, &TransactionError{Err: fmt.Errorf("failed to start transaction: %w", err)}
	}

	m.log.Printf("⏳ Starting migration run %s (%s, %d units)", report.RunID, kind, len(ordered))

	for _, u := range ordered {
		ur, err := m.runUnit(ctx, tx, u)
		report.Units = append(report.Units, ur)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				m.log.Printf("❌ Rollback failed: %v", rbErr)
			}
			fmt.Fprintf(m.errOut, "Error: %s run failed in %s, rolled back: %v\n", kind, u.Name, err)
			m.metrics.RunFinished("rolled_back", time.Since(started))
			return report, &TransactionError{Unit: u.Name, Err: err}
		}
	}

	if !commit {
		if err := tx.Rollback(); err != nil {
			fmt.Fprintf(m.errOut, "Error: failed to roll back dry run: %v\n", err)
			return report, &TransactionError{Err: fmt.Errorf("failed to roll back dry run: %w", err)}
		}
		fmt.Fprintln(m.errOut, "⚠️  Not committing! No changes were made. Pass --commit to apply them.")
		m.metrics.RunFinished("dry_run", time.Since(started))
		return report, nil
	}

	if err := tx.Commit(); err != nil {
		fmt.Fprintf(m.errOut, "Error: failed to commit transaction: %v\n", err)
		m.metrics.RunFinished("rolled_back", time.Since(started))
		return report, &TransactionError{Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}
	report.Committed = true
	m.metrics.RunFinished("committed", time.Since(started))
	m.log.Printf("✅ Migration run %s committed", report.RunID)
	return report, nil
}

func (m *Migrator) runUnit(ctx context.Context, tx Tx, u *Unit) (UnitReport, error) {
	mode, err := Decide(ctx, tx, u)
	if err != nil {
		return UnitReport{Name: u.Name}, err
	}
	m.metrics.UnitHandled(mode.String())

	switch mode {
	case ModeSkip:
		m.log.Printf("⚠️  %s has already been migrated, skip it!", u.Name)
		return UnitReport{Name: u.Name, Mode: ModeSkip}, nil
	case ModeUpdate:
		m.log.Printf("♻️  Updating %s", u.Name)
	default:
		m.log.Printf("⏳ Migrating %s", u.Name)
	}

	run := newUnitRun(u, tx, m.source, m.progress(u.Name), m.metrics, m.errOut)
	if err := run.execute(ctx, mode); err != nil {
		return run.report, err
	}

	if mode == ModeFresh {
		if err := tx.Record(ctx, u.Name); err != nil {
			return run.report, &PersistenceError{Unit: u.Name, Op: "record applied migration", Err: err}
		}
	}

	r := run.report
	m.log.Printf("✅ %s: %d rows, %d created, %d updated, %d skipped by error hook", u.Name, r.Rows, r.Created, r.Updated, r.Failed)
	return r, nil
}

// PlanEntry is the decision a run would take for one unit.
type PlanEntry struct {
	Name      string
	Mode      Mode
	DependsOn []string
}

// Plan returns the execution order and the mode each unit would run in,
// without executing anything. The ledger is read inside a transaction that
// is always rolled back.
func (m *Migrator) Plan(ctx context.Context) ([]PlanEntry, error) {
	ordered, err := m.Sorted()
	if err != nil {
		return nil, err
	}
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	plan := make([]PlanEntry, 0, len(ordered))
	for _, u := range ordered {
		mode, err := Decide(ctx, tx, u)
		if err != nil {
			return nil, err
		}
		plan = append(plan, PlanEntry{Name: u.Name, Mode: mode, DependsOn: u.DependsOn})
	}
	return plan, nil
}
