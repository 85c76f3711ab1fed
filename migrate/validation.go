package migrate

import (
	"strings"
)

// ValidateUnit checks the static configuration of a unit. Every failure is a
// ConfigurationError.
func ValidateUnit(u *Unit) error {
	if u.Name == "" {
		return configErrorf("", "unit without a name")
	}

	if _, err := modelType(u.Model); err != nil {
		return configErrorf(u.Name, "`Model` has to be a record type: %s", err.(*ConfigurationError).Reason)
	}

	if !strings.Contains(strings.ToUpper(u.Query), "SELECT") {
		return configErrorf(u.Name, "`Query` has to be a string containing SELECT")
	}

	if u.AllowUpdates && u.SearchAttr == "" {
		return configErrorf(u.Name, "`AllowUpdates` forces you to set `SearchAttr` to search for existing records, e.g. `username`")
	}

	for _, col := range u.columnOrder() {
		if err := validateDescriptor(u.Name, col, u.Columns[col]); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(u.DependsOn))
	for _, dep := range u.DependsOn {
		if dep == "" {
			return configErrorf(u.Name, "empty name in `DependsOn`")
		}
		if seen[dep] {
			return configErrorf(u.Name, "%s listed twice in `DependsOn`", dep)
		}
		seen[dep] = true
	}

	return nil
}

func validateDescriptor(unit, col string, d ColumnDescriptor) error {
	if !d.built {
		return configErrorf(unit, "column %q: descriptor has to be built with Is or Exclude", col)
	}
	if d.exclude {
		return nil
	}
	if d.model == nil || d.searchAttr == "" {
		return configErrorf(unit, "column %q: relation needs a record type and a search attribute", col)
	}
	if d.assignByID && !d.prefetch {
		return configErrorf(unit, "column %q: assign by id is only allowed with prefetching", col)
	}
	return nil
}

// validateUnits validates every concrete unit and checks names are unique
// and dependencies refer to known concrete units. Abstract bases may be
// incomplete and are only checked for a unique name.
func validateUnits(units []*Unit) error {
	byName := make(map[string]*Unit, len(units))
	for _, u := range units {
		if !u.Abstract {
			if err := ValidateUnit(u); err != nil {
				return err
			}
		}
		if _, dup := byName[u.Name]; dup {
			return configErrorf(u.Name, "unit registered twice")
		}
		byName[u.Name] = u
	}

	for _, u := range units {
		if u.Abstract {
			continue
		}
		for _, dep := range u.DependsOn {
			d, ok := byName[dep]
			if !ok {
				return configErrorf(u.Name, "depends on unknown unit %s", dep)
			}
			if d.Abstract {
				return configErrorf(u.Name, "depends on abstract unit %s", dep)
			}
		}
	}
	return nil
}
