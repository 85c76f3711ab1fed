package migrate

import (
	"fmt"
	"reflect"
)

// RelationKind classifies how a source column maps onto another record.
type RelationKind int

const (
	RelationNone RelationKind = iota
	RelationForeignKey
	RelationOneToOne
	RelationManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case RelationForeignKey:
		return "fk"
	case RelationOneToOne:
		return "o2o"
	case RelationManyToMany:
		return "m2m"
	default:
		return "none"
	}
}

// DefaultDelimiter separates keys in a many-to-many source value.
const DefaultDelimiter = ";"

// ColumnDescriptor describes how one output field is derived from the source
// column of the same name. Values are built by Is or Exclude and are
// immutable afterwards.
type ColumnDescriptor struct {
	kind        RelationKind
	model       reflect.Type
	searchAttr  string
	exclude     bool
	delimiter   string
	skipMissing bool
	prefetch    bool
	assignByID  bool
	built       bool
}

// Option tunes a descriptor built by Is.
type Option func(*descriptorOptions)

type descriptorOptions struct {
	fk, o2o, m2m bool
	delimiter    string
	skipMissing  bool
	prefetch     bool
	assignByID   bool
}

func ForeignKey() Option        { return func(s *descriptorOptions) { s.fk = true } }
func OneToOne() Option          { return func(s *descriptorOptions) { s.o2o = true } }
func ManyToMany() Option        { return func(s *descriptorOptions) { s.m2m = true } }
func SkipMissing() Option       { return func(s *descriptorOptions) { s.skipMissing = true } }
func AssignByID() Option        { return func(s *descriptorOptions) { s.assignByID = true } }
func Prefetch(on bool) Option   { return func(s *descriptorOptions) { s.prefetch = on } }
func Delimiter(d string) Option { return func(s *descriptorOptions) { s.delimiter = d } }

// Is describes a column that refers to records of model, looked up by
// searchAttr. Exactly one of ForeignKey, OneToOne or ManyToMany must be given.
// Prefetching is on unless disabled with Prefetch(false).
func Is(model any, searchAttr string, opts ...Option) (ColumnDescriptor, error) {
	o := descriptorOptions{delimiter: DefaultDelimiter, prefetch: true}
	for _, opt := range opts {
		opt(&o)
	}

	typ, err := modelType(model)
	if err != nil {
		return ColumnDescriptor{}, err
	}
	if searchAttr == "" {
		return ColumnDescriptor{}, configErrorf("", "relation to %s requires a search attribute", typ.Name())
	}

	kinds := 0
	kind := RelationNone
	for k, on := range map[RelationKind]bool{
		RelationForeignKey: o.fk,
		RelationOneToOne:   o.o2o,
		RelationManyToMany: o.m2m,
	} {
		if on {
			kinds++
			kind = k
		}
	}
	switch {
	case kinds == 0:
		return ColumnDescriptor{}, configErrorf("", "relation to %s needs a relation kind (fk, o2o or m2m)", typ.Name())
	case kinds > 1:
		return ColumnDescriptor{}, configErrorf("", "relation to %s can only have one relation kind", typ.Name())
	}

	if o.assignByID && !o.prefetch {
		return ColumnDescriptor{}, configErrorf("", "relation to %s: assign by id is only allowed with prefetching", typ.Name())
	}
	if kind == RelationManyToMany && o.delimiter == "" {
		return ColumnDescriptor{}, configErrorf("", "relation to %s: empty delimiter", typ.Name())
	}

	return ColumnDescriptor{
		kind:        kind,
		model:       typ,
		searchAttr:  searchAttr,
		delimiter:   o.delimiter,
		skipMissing: o.skipMissing,
		prefetch:    o.prefetch,
		assignByID:  o.assignByID,
		built:       true,
	}, nil
}

// MustIs is like Is but panics on a configuration error. It is meant for
// package-level unit definitions.
func MustIs(model any, searchAttr string, opts ...Option) ColumnDescriptor {
	d, err := Is(model, searchAttr, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Exclude drops the source column entirely.
func Exclude() ColumnDescriptor {
	return ColumnDescriptor{exclude: true, delimiter: DefaultDelimiter, prefetch: true, built: true}
}

func (d ColumnDescriptor) Kind() RelationKind { return d.kind }
func (d ColumnDescriptor) SearchAttr() string { return d.searchAttr }
func (d ColumnDescriptor) Excluded() bool     { return d.exclude }
func (d ColumnDescriptor) Delimiter() string  { return d.delimiter }
func (d ColumnDescriptor) SkipsMissing() bool { return d.skipMissing }
func (d ColumnDescriptor) Prefetches() bool   { return d.prefetch }
func (d ColumnDescriptor) AssignsByID() bool  { return d.assignByID }

// Model returns a new zero pointer of the related record type, or nil for
// excluded columns.
func (d ColumnDescriptor) Model() any {
	if d.model == nil {
		return nil
	}
	return reflect.New(d.model).Interface()
}

func (d ColumnDescriptor) modelName() string {
	if d.model == nil {
		return ""
	}
	return d.model.Name()
}

// modelType accepts a struct value or a pointer to one.
func modelType(model any) (reflect.Type, error) {
	if model == nil {
		return nil, configErrorf("", "a record type is required")
	}
	typ := reflect.TypeOf(model)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, configErrorf("", "%s is not a record type", fmt.Sprint(reflect.TypeOf(model)))
	}
	return typ, nil
}
