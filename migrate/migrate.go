package migrate

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/davecgh/go-spew/spew"

	"data-migration/metrics"
)

// UnitReport summarizes what a run did with one unit.
type UnitReport struct {
	Name     string
	Mode     Mode
	Rows     int
	Created  int
	Updated  int
	Failed   int
	Duration time.Duration
	// Cache is the relation cache built for the unit during the run.
	Cache *RelationCache
}

// unitRun executes one unit inside the run transaction.
type unitRun struct {
	unit     *Unit
	tx       Tx
	source   Source
	res      *resolver
	progress Progress
	metrics  *metrics.Recorder
	errOut   io.Writer
	columns  []string
	report   UnitReport
}

func newUnitRun(u *Unit, tx Tx, src Source, progress Progress, rec *metrics.Recorder, errOut io.Writer) *unitRun {
	cache := NewRelationCache()
	return &unitRun{
		unit:     u,
		tx:       tx,
		source:   src,
		res:      &resolver{unit: u.Name, target: tx, cache: cache},
		progress: progress,
		metrics:  rec,
		errOut:   errOut,
		report:   UnitReport{Name: u.Name, Cache: cache},
	}
}

func (r *unitRun) execute(ctx context.Context, mode Mode) (err error) {
	started := time.Now()
	r.report.Mode = mode
	defer func() { r.report.Duration = time.Since(started) }()

	cur, err := r.source.Query(ctx, r.unit.Query)
	if err != nil {
		return fmt.Errorf("failed to run source query of %s: %w", r.unit.Name, err)
	}
	defer func() { _ = cur.Close() }()

	total := cur.Count()
	if r.unit.Hooks.RowCount != nil {
		total = r.unit.Hooks.RowCount(cur)
	}
	r.columns = cur.Columns()

	// the cache never outlives a run
	r.res.cache.Clear()

	if mode == ModeFresh && r.unit.Hooks.BeforeAll != nil {
		if err := r.unit.Hooks.BeforeAll(ctx, r.tx); err != nil {
			return fmt.Errorf("%s: before all: %w", r.unit.Name, err)
		}
	}

	if err := r.res.prefetch(ctx, r.unit); err != nil {
		return err
	}

	var existing, created, current int
	for cur.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := cur.Row()
		current++
		r.report.Rows++
		r.metrics.RowProcessed(r.unit.Name, mode.String())

		if mode == ModeFresh {
			r.progress.Step(current, total)
			ok, err := r.guard(ctx, row, r.createRow)
			if err != nil {
				return err
			}
			if ok {
				r.created()
			}
			continue
		}

		instance, found, err := r.findExisting(ctx, row)
		if err != nil {
			return err
		}
		if found {
			existing++
		} else {
			created++
		}
		r.progress.Search(existing, created, total)

		if found {
			ok, err := r.guard(ctx, row, func(ctx context.Context, t Target, row Row) error {
				if r.unit.Hooks.UpdateExisting == nil {
					return nil
				}
				return r.unit.Hooks.UpdateExisting(ctx, t, instance, row)
			})
			if err != nil {
				return err
			}
			if ok {
				r.report.Updated++
				r.metrics.RecordUpdated(r.unit.Name)
			}
			continue
		}

		ok, err := r.guard(ctx, row, r.createRow)
		if err != nil {
			return err
		}
		if ok {
			r.created()
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("failed to read source rows of %s: %w", r.unit.Name, err)
	}
	r.progress.Done()

	if mode == ModeFresh && r.unit.Hooks.AfterAll != nil {
		if err := r.unit.Hooks.AfterAll(ctx, r.tx); err != nil {
			return fmt.Errorf("%s: after all: %w", r.unit.Name, err)
		}
	}
	return nil
}

func (r *unitRun) created() {
	r.report.Created++
	r.metrics.RecordCreated(r.unit.Name)
}

// findExisting looks up the record matching the row's search attribute. A
// row without that column has no existing record.
func (r *unitRun) findExisting(ctx context.Context, row Row) (any, bool, error) {
	key, ok := row[r.unit.SearchAttr]
	if !ok || key == nil {
		return nil, false, nil
	}
	instance, found, err := r.tx.Lookup(ctx, r.unit.Model, r.unit.SearchAttr, key)
	if err != nil {
		return nil, false, &PersistenceError{Unit: r.unit.Name, Op: "search existing record", Err: err}
	}
	return instance, found, nil
}

type rowFunc func(ctx context.Context, t Target, row Row) error

// guard applies the row error policy. Without an error hook a failure is
// reported and aborts the run. With one, the row runs in a nested scope and
// the hook decides: nil skips the row (ok is false), an error aborts.
func (r *unitRun) guard(ctx context.Context, row Row, fn rowFunc) (ok bool, err error) {
	hook := r.unit.Hooks.ErrorCreatingInstance
	if hook == nil {
		if err := fn(ctx, r.tx, row); err != nil {
			r.reportRow(row, err)
			return false, err
		}
		return true, nil
	}

	err = r.tx.Atomic(ctx, func(t Target) error { return fn(ctx, t, row) })
	if err == nil {
		return true, nil
	}
	if herr := hook(err, row); herr != nil {
		r.reportRow(row, herr)
		return false, herr
	}
	r.report.Failed++
	r.metrics.RowFailed(r.unit.Name)
	return false, nil
}

func (r *unitRun) reportRow(row Row, err error) {
	fmt.Fprintf(r.errOut, "\nError: The following row produces an error in %s: %v\n%s", r.unit.Name, err, spew.Sdump(map[string]any(row)))
}

// createRow transforms, saves and associates one new record.
func (r *unitRun) createRow(ctx context.Context, t Target, row Row) error {
	hooks := r.unit.Hooks
	if hooks.BeforeTransformation != nil {
		if err := hooks.BeforeTransformation(ctx, row); err != nil {
			return err
		}
	}

	data, m2m, err := r.res.transform(ctx, r.unit, rowColumns(r.columns, row), row)
	if err != nil {
		return err
	}

	instance, err := t.Construct(r.unit.Model, data)
	if err != nil {
		return &PersistenceError{Unit: r.unit.Name, Op: "construct record", Err: err}
	}

	if hooks.BeforeSave != nil {
		if err := hooks.BeforeSave(ctx, instance, row); err != nil {
			return err
		}
	}

	if err := t.Persist(ctx, instance); err != nil {
		return &PersistenceError{Unit: r.unit.Name, Op: "save record", Err: err}
	}

	// many-to-many links need the saved record
	for _, field := range slices.Sorted(maps.Keys(m2m)) {
		related := m2m[field]
		if len(related) == 0 {
			continue
		}
		if err := t.AssociateMany(ctx, instance, field, related); err != nil {
			return &PersistenceError{Unit: r.unit.Name, Op: "associate " + field, Err: err}
		}
	}

	if hooks.AfterSave != nil {
		if err := hooks.AfterSave(ctx, instance, row); err != nil {
			return err
		}
	}
	return nil
}
