package migrate

import (
	"context"
	"maps"
	"slices"
	"strings"
)

// resolver turns raw source values into related records or identifiers.
type resolver struct {
	unit   string
	target Target
	cache  *RelationCache
}

// prefetch fills the cache for every prefetching descriptor of u.
func (r *resolver) prefetch(ctx context.Context, u *Unit) error {
	for _, col := range u.columnOrder() {
		d := u.Columns[col]
		if d.exclude || !d.prefetch {
			continue
		}
		if err := r.cache.Load(ctx, r.target, d); err != nil {
			return &PersistenceError{Unit: r.unit, Op: "prefetch column " + col, Err: err}
		}
	}
	return nil
}

// one resolves a single-valued relation. found is false when the record is
// missing and the descriptor skips missing records.
func (r *resolver) one(ctx context.Context, col string, d ColumnDescriptor, raw any) (value any, found bool, err error) {
	if d.prefetch {
		// the cache is filled up front; a miss means "not found"
		value, found = r.cache.Get(d, raw)
	} else {
		value, found, err = r.target.Lookup(ctx, d.Model(), d.searchAttr, raw)
		if err != nil {
			return nil, false, &PersistenceError{Unit: r.unit, Op: "look up " + d.modelName(), Err: err}
		}
	}
	if found {
		return value, true, nil
	}
	if d.skipMissing {
		return nil, false, nil
	}
	return nil, false, &NotFoundError{Unit: r.unit, Column: col, Model: d.modelName(), Attr: d.searchAttr, Value: raw}
}

// many splits raw by the descriptor's delimiter and resolves every token.
// Missing tokens are dropped when the descriptor skips missing records.
func (r *resolver) many(ctx context.Context, col string, d ColumnDescriptor, raw any) ([]any, error) {
	s := strings.TrimSpace(cacheKey(raw))
	if s == "" {
		return nil, nil
	}

	var out []any
	for _, token := range strings.Split(s, d.delimiter) {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		v, found, err := r.one(ctx, col, d, token)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, v)
		}
	}
	return out, nil
}

// rowColumns lists the keys of row: the cursor columns first, then keys
// added by hooks in sorted order.
func rowColumns(columns []string, row Row) []string {
	out := make([]string, 0, len(row))
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		seen[col] = true
		if _, ok := row[col]; ok {
			out = append(out, col)
		}
	}
	for _, key := range slices.Sorted(maps.Keys(row)) {
		if !seen[key] {
			out = append(out, key)
		}
	}
	return out
}

// transform splits a row into constructor data and deferred many-to-many
// values, resolving relations on the way.
func (r *resolver) transform(ctx context.Context, u *Unit, columns []string, row Row) (map[string]any, map[string][]any, error) {
	data := make(map[string]any, len(row))
	m2m := make(map[string][]any)

	for _, col := range columns {
		raw, ok := row[col]
		if !ok {
			continue
		}
		d, described := u.Columns[col]
		if !described {
			data[col] = raw
			continue
		}

		switch {
		case d.exclude:
			continue
		case d.kind == RelationManyToMany:
			values, err := r.many(ctx, col, d, raw)
			if err != nil {
				return nil, nil, err
			}
			m2m[col] = values
		default:
			if raw == nil {
				if d.skipMissing {
					continue
				}
				return nil, nil, &NotFoundError{Unit: r.unit, Column: col, Model: d.modelName(), Attr: d.searchAttr, Value: nil}
			}
			v, found, err := r.one(ctx, col, d, raw)
			if err != nil {
				return nil, nil, err
			}
			if found {
				data[col] = v
			}
		}
	}
	return data, m2m, nil
}
