package migrate

import (
	"context"
	"fmt"
	"reflect"
)

type cacheBinding struct {
	model reflect.Type
	attr  string
	byID  bool
}

// RelationCache holds prefetched related records for one unit during one
// run. Keys are lookup values normalized to strings, so a source value "3"
// finds a record whose key is the integer 3.
type RelationCache struct {
	entries map[cacheBinding]map[string]any
}

func NewRelationCache() *RelationCache {
	return &RelationCache{entries: make(map[cacheBinding]map[string]any)}
}

func bindingOf(d ColumnDescriptor) cacheBinding {
	return cacheBinding{model: d.model, attr: d.searchAttr, byID: d.assignByID}
}

// Loaded reports whether the records for d have been fetched.
func (c *RelationCache) Loaded(d ColumnDescriptor) bool {
	_, ok := c.entries[bindingOf(d)]
	return ok
}

// Load bulk-loads the related records for d once. Later calls for the same
// type, attribute and id mode are no-ops.
func (c *RelationCache) Load(ctx context.Context, t Target, d ColumnDescriptor) error {
	b := bindingOf(d)
	if _, ok := c.entries[b]; ok {
		return nil
	}
	records, err := t.BulkLoad(ctx, d.Model(), d.searchAttr, d.assignByID)
	if err != nil {
		return fmt.Errorf("prefetch %s by %s: %w", d.modelName(), d.searchAttr, err)
	}
	m := make(map[string]any, len(records))
	for k, v := range records {
		m[cacheKey(k)] = v
	}
	c.entries[b] = m
	return nil
}

// Get returns the cached value for raw. A miss means the record does not
// exist.
func (c *RelationCache) Get(d ColumnDescriptor, raw any) (any, bool) {
	m, ok := c.entries[bindingOf(d)]
	if !ok {
		return nil, false
	}
	v, ok := m[cacheKey(raw)]
	return v, ok
}

// Len returns the number of cached entries for model's type.
func (c *RelationCache) Len(model any) int {
	typ, err := modelType(model)
	if err != nil {
		return 0
	}
	n := 0
	for b, m := range c.entries {
		if b.model == typ {
			n += len(m)
		}
	}
	return n
}

// Values returns the cached values for model's type.
func (c *RelationCache) Values(model any) []any {
	typ, err := modelType(model)
	if err != nil {
		return nil
	}
	var out []any
	for b, m := range c.entries {
		if b.model != typ {
			continue
		}
		for _, v := range m {
			out = append(out, v)
		}
	}
	return out
}

// Clear drops every cached entry.
func (c *RelationCache) Clear() {
	clear(c.entries)
}

func cacheKey(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	return fmt.Sprint(rv.Interface())
}
