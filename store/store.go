// Package store implements the migration target and its ledger on gorm. The
// whole run shares one gorm transaction; rows that need an isolated failure
// scope get a nested savepoint.
package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"data-migration/migrate"
)

// Compile-time contract assertions.
var (
	_ migrate.Database = (*Store)(nil)
	_ migrate.Tx       = (*Tx)(nil)
)

// Store opens run transactions on a gorm database.
type Store struct {
	db      *gorm.DB
	schemas *sync.Map
	now     func() time.Time
}

// New wraps db and makes sure the ledger table exists. The ledger table is
// the only table the store creates; target tables must already exist.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&AppliedMigration{}); err != nil {
		return nil, fmt.Errorf("failed to create ledger table: %w", err)
	}
	return &Store{db: db, schemas: &sync.Map{}, now: time.Now}, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Begin starts the run transaction.
func (s *Store) Begin(ctx context.Context) (migrate.Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &Tx{db: tx, store: s}, nil
}

// Tx is one run transaction, or a savepoint nested in one.
type Tx struct {
	db    *gorm.DB
	store *Store
}

// DB returns the transaction handle, for hooks that need plain gorm access.
func (t *Tx) DB() *gorm.DB { return t.db }

// GormDB returns the gorm handle behind a target handed to a hook.
func GormDB(t migrate.Target) (*gorm.DB, bool) {
	tx, ok := t.(*Tx)
	if !ok {
		return nil, false
	}
	return tx.db, true
}

func (t *Tx) Commit() error   { return t.db.Commit().Error }
func (t *Tx) Rollback() error { return t.db.Rollback().Error }

func (t *Tx) schema(model any) (*schema.Schema, error) {
	sch, err := schema.Parse(model, t.store.schemas, t.db.NamingStrategy)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model %T: %w", model, err)
	}
	return sch, nil
}

func (t *Tx) field(sch *schema.Schema, name string) (*schema.Field, error) {
	f := sch.LookUpField(name)
	if f == nil {
		return nil, fmt.Errorf("%s has no field %q", sch.Name, name)
	}
	return f, nil
}

// relation finds the relationship a source column refers to, by field name
// or by its column-style name ("Author" or "author").
func (t *Tx) relation(sch *schema.Schema, name string) *schema.Relationship {
	if rel, ok := sch.Relationships.Relations[name]; ok {
		return rel
	}
	for _, relName := range slices.Sorted(maps.Keys(sch.Relationships.Relations)) {
		if strings.EqualFold(relName, name) || t.db.NamingStrategy.ColumnName("", relName) == name {
			return sch.Relationships.Relations[relName]
		}
	}
	return nil
}

// Construct builds an unsaved record. Relation fields take either a record of
// the related type or its raw primary key; a raw key only sets the foreign
// key column so the related record is never loaded.
func (t *Tx) Construct(model any, fields map[string]any) (any, error) {
	sch, err := t.schema(model)
	if err != nil {
		return nil, err
	}
	ctx := t.context()
	rv := reflect.New(sch.ModelType)

	for _, name := range slices.Sorted(maps.Keys(fields)) {
		val := fields[name]
		if rel := t.relation(sch, name); rel != nil {
			if err := setRelation(ctx, rv, rel, val); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", sch.Name, name, err)
			}
			continue
		}
		f, err := t.field(sch, name)
		if err != nil {
			return nil, err
		}
		if err := f.Set(ctx, rv, val); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", sch.Name, name, err)
		}
	}
	return rv.Interface(), nil
}

func setRelation(ctx context.Context, rv reflect.Value, rel *schema.Relationship, val any) error {
	if rel.Type != schema.BelongsTo {
		return fmt.Errorf("relation %s is %s, only belongs-to relations can be assigned", rel.Name, rel.Type)
	}
	if val == nil {
		return nil
	}

	instance := isInstanceOf(val, rel.FieldSchema.ModelType)
	if instance {
		if err := rel.Field.Set(ctx, rv, val); err != nil {
			return err
		}
	}
	for _, ref := range rel.References {
		if ref.OwnPrimaryKey || ref.PrimaryKey == nil {
			continue
		}
		fk := val
		if instance {
			fk, _ = ref.PrimaryKey.ValueOf(ctx, reflect.ValueOf(val))
		}
		if err := ref.ForeignKey.Set(ctx, rv, fk); err != nil {
			return err
		}
	}
	return nil
}

func isInstanceOf(v any, typ reflect.Type) bool {
	vt := reflect.TypeOf(v)
	for vt.Kind() == reflect.Pointer {
		vt = vt.Elem()
	}
	return vt == typ
}

// Persist inserts the record, or updates it when its primary key exists.
// Associations are never written through the record itself.
func (t *Tx) Persist(ctx context.Context, instance any) error {
	return t.db.WithContext(ctx).Omit(clause.Associations).Save(instance).Error
}

// Lookup finds one record with attr = value.
func (t *Tx) Lookup(ctx context.Context, model any, attr string, value any) (any, bool, error) {
	sch, err := t.schema(model)
	if err != nil {
		return nil, false, err
	}
	f, err := t.field(sch, attr)
	if err != nil {
		return nil, false, err
	}

	dest := reflect.New(sch.ModelType).Interface()
	err = t.db.WithContext(ctx).Where(map[string]any{f.DBName: value}).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return dest, true, nil
}

// BulkLoad loads all records of model's type keyed by keyAttr. With byID only
// the key and primary key columns are selected.
func (t *Tx) BulkLoad(ctx context.Context, model any, keyAttr string, byID bool) (map[any]any, error) {
	sch, err := t.schema(model)
	if err != nil {
		return nil, err
	}
	key, err := t.field(sch, keyAttr)
	if err != nil {
		return nil, err
	}
	pk := sch.PrioritizedPrimaryField

	q := t.db.WithContext(ctx)
	if byID {
		if pk == nil {
			return nil, fmt.Errorf("%s has no primary key to assign by id", sch.Name)
		}
		columns := []string{pk.DBName}
		if key.DBName != pk.DBName {
			columns = append(columns, key.DBName)
		}
		q = q.Select(columns)
	}

	slice := reflect.New(reflect.SliceOf(reflect.PointerTo(sch.ModelType)))
	if err := q.Find(slice.Interface()).Error; err != nil {
		return nil, err
	}

	elems := slice.Elem()
	out := make(map[any]any, elems.Len())
	for i := 0; i < elems.Len(); i++ {
		elem := elems.Index(i)
		k, _ := key.ValueOf(ctx, elem)
		if b, ok := k.([]byte); ok {
			k = string(b)
		}
		if byID {
			id, _ := pk.ValueOf(ctx, elem)
			out[k] = id
			continue
		}
		out[k] = elem.Interface()
	}
	return out, nil
}

// AssociateMany writes join rows linking instance to every related value.
// Related values are records or raw primary keys; related records are never
// written themselves.
func (t *Tx) AssociateMany(ctx context.Context, instance any, field string, related []any) error {
	sch, err := t.schema(instance)
	if err != nil {
		return err
	}
	rel := t.relation(sch, field)
	if rel == nil || rel.Type != schema.Many2Many || rel.JoinTable == nil {
		return fmt.Errorf("%s.%s is not a many-to-many relation", sch.Name, field)
	}

	owner := reflect.ValueOf(instance)
	rows := make([]map[string]any, 0, len(related))
	for _, v := range related {
		row := make(map[string]any, len(rel.References))
		for _, ref := range rel.References {
			switch {
			case ref.PrimaryKey == nil:
				row[ref.ForeignKey.DBName] = ref.PrimaryValue
			case ref.OwnPrimaryKey:
				row[ref.ForeignKey.DBName], _ = ref.PrimaryKey.ValueOf(ctx, owner)
			case isInstanceOf(v, rel.FieldSchema.ModelType):
				row[ref.ForeignKey.DBName], _ = ref.PrimaryKey.ValueOf(ctx, reflect.ValueOf(v))
			default:
				row[ref.ForeignKey.DBName] = v
			}
		}
		rows = append(rows, row)
	}

	return t.db.WithContext(ctx).
		Table(rel.JoinTable.Table).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// Atomic runs fn inside a savepoint of the current transaction.
func (t *Tx) Atomic(ctx context.Context, fn func(migrate.Target) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{db: tx, store: t.store})
	})
}

func (t *Tx) context() context.Context {
	if t.db.Statement != nil && t.db.Statement.Context != nil {
		return t.db.Statement.Context
	}
	return context.Background()
}
