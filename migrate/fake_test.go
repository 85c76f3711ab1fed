package migrate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Test records. The fake target matches fields case-insensitively.
type author struct {
	ID   int
	Name string
}

type tag struct {
	ID    int
	Label string
}

type book struct {
	ID     int
	Title  string
	Author *author
}

// fakeState is the committed content of a fakeDB.
type fakeState struct {
	records map[reflect.Type][]any
	links   []link
	applied []string
	nextID  int
}

type link struct {
	owner   any
	field   string
	related []any
}

func newFakeState() *fakeState {
	return &fakeState{records: make(map[reflect.Type][]any)}
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		records: make(map[reflect.Type][]any, len(s.records)),
		links:   append([]link(nil), s.links...),
		applied: append([]string(nil), s.applied...),
		nextID:  s.nextID,
	}
	for typ, recs := range s.records {
		copied := make([]any, len(recs))
		for i, r := range recs {
			v := reflect.New(typ)
			v.Elem().Set(reflect.ValueOf(r).Elem())
			copied[i] = v.Interface()
		}
		c.records[typ] = copied
	}
	return c
}

type callCounts struct {
	lookups   int
	bulkLoads int
	persists  int
	atomics   int
}

// fakeDB is an in-memory Database. Every Begin works on a copy of the
// committed state.
type fakeDB struct {
	state  *fakeState
	calls  callCounts
	failOn func(instance any) error
	begins int
}

func newFakeDB() *fakeDB { return &fakeDB{state: newFakeState()} }

func (db *fakeDB) Begin(context.Context) (Tx, error) {
	db.begins++
	return &fakeTx{db: db, state: db.state.clone()}, nil
}

func (db *fakeDB) all(model any) []any {
	typ, _ := modelType(model)
	return db.state.records[typ]
}

func (db *fakeDB) seed(records ...any) {
	for _, r := range records {
		typ := reflect.TypeOf(r).Elem()
		db.state.records[typ] = append(db.state.records[typ], r)
	}
}

type fakeTx struct {
	db    *fakeDB
	state *fakeState
	done  bool
}

func (t *fakeTx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	t.db.state = t.state
	return nil
}

func (t *fakeTx) Rollback() error {
	t.done = true
	return nil
}

func (t *fakeTx) Applied(_ context.Context, unit string) (bool, error) {
	for _, u := range t.state.applied {
		if u == unit {
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) Record(_ context.Context, unit string) error {
	t.state.applied = append(t.state.applied, unit)
	return nil
}

func fieldByName(v reflect.Value, name string) (reflect.Value, bool) {
	typ := v.Type()
	for i := 0; i < typ.NumField(); i++ {
		if strings.EqualFold(typ.Field(i).Name, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func (t *fakeTx) Construct(model any, fields map[string]any) (any, error) {
	typ, err := modelType(model)
	if err != nil {
		return nil, err
	}
	rv := reflect.New(typ)
	for name, val := range fields {
		f, ok := fieldByName(rv.Elem(), name)
		if !ok {
			return nil, fmt.Errorf("%s has no field %q", typ.Name(), name)
		}
		if val == nil {
			continue
		}
		v := reflect.ValueOf(val)
		switch {
		case v.Type().AssignableTo(f.Type()):
			f.Set(v)
		case v.Type().ConvertibleTo(f.Type()):
			f.Set(v.Convert(f.Type()))
		default:
			return nil, fmt.Errorf("cannot set %s.%s from %T", typ.Name(), name, val)
		}
	}
	return rv.Interface(), nil
}

func (t *fakeTx) Persist(_ context.Context, instance any) error {
	t.db.calls.persists++
	if t.db.failOn != nil {
		if err := t.db.failOn(instance); err != nil {
			return err
		}
	}
	rv := reflect.ValueOf(instance).Elem()
	typ := rv.Type()
	id := rv.FieldByName("ID")
	if id.Int() == 0 {
		t.state.nextID++
		id.SetInt(int64(t.state.nextID))
	}
	recs := t.state.records[typ]
	for i, r := range recs {
		if reflect.ValueOf(r).Elem().FieldByName("ID").Int() == id.Int() {
			recs[i] = instance
			return nil
		}
	}
	t.state.records[typ] = append(recs, instance)
	return nil
}

func (t *fakeTx) Lookup(_ context.Context, model any, attr string, value any) (any, bool, error) {
	t.db.calls.lookups++
	typ, err := modelType(model)
	if err != nil {
		return nil, false, err
	}
	for _, r := range t.state.records[typ] {
		f, ok := fieldByName(reflect.ValueOf(r).Elem(), attr)
		if !ok {
			return nil, false, fmt.Errorf("%s has no field %q", typ.Name(), attr)
		}
		if fmt.Sprint(f.Interface()) == fmt.Sprint(value) {
			return r, true, nil
		}
	}
	return nil, false, nil
}

func (t *fakeTx) BulkLoad(_ context.Context, model any, keyAttr string, byID bool) (map[any]any, error) {
	t.db.calls.bulkLoads++
	typ, err := modelType(model)
	if err != nil {
		return nil, err
	}
	out := make(map[any]any)
	for _, r := range t.state.records[typ] {
		rv := reflect.ValueOf(r).Elem()
		k, ok := fieldByName(rv, keyAttr)
		if !ok {
			return nil, fmt.Errorf("%s has no field %q", typ.Name(), keyAttr)
		}
		if byID {
			out[k.Interface()] = rv.FieldByName("ID").Interface()
			continue
		}
		out[k.Interface()] = r
	}
	return out, nil
}

func (t *fakeTx) AssociateMany(_ context.Context, instance any, field string, related []any) error {
	t.state.links = append(t.state.links, link{owner: instance, field: field, related: related})
	return nil
}

func (t *fakeTx) Atomic(_ context.Context, fn func(Target) error) error {
	t.db.calls.atomics++
	saved := t.state.clone()
	if err := fn(t); err != nil {
		t.state = saved
		return err
	}
	return nil
}

// fakeSource serves fixed rows per query.
type fakeSource struct {
	tables  map[string]fakeTable
	queries []string
}

type fakeTable struct {
	columns []string
	rows    []Row
}

func newFakeSource() *fakeSource { return &fakeSource{tables: make(map[string]fakeTable)} }

func (s *fakeSource) add(query string, columns []string, rows ...Row) {
	s.tables[query] = fakeTable{columns: columns, rows: rows}
}

func (s *fakeSource) Query(_ context.Context, query string) (Cursor, error) {
	s.queries = append(s.queries, query)
	tbl, ok := s.tables[query]
	if !ok {
		return nil, fmt.Errorf("no such query: %s", query)
	}
	return &fakeCursor{table: tbl, pos: -1}, nil
}

type fakeCursor struct {
	table fakeTable
	pos   int
}

func (c *fakeCursor) Columns() []string { return c.table.columns }
func (c *fakeCursor) Count() int        { return len(c.table.rows) }
func (c *fakeCursor) Err() error        { return nil }
func (c *fakeCursor) Close() error      { return nil }

func (c *fakeCursor) Next() bool {
	c.pos++
	return c.pos < len(c.table.rows)
}

// Row hands out a copy so hooks may change it freely.
func (c *fakeCursor) Row() Row {
	row := make(Row, len(c.table.rows[c.pos]))
	for k, v := range c.table.rows[c.pos] {
		row[k] = v
	}
	return row
}
