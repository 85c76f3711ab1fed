package migrate

import (
	"strings"
)

type visitState int

const (
	unvisited visitState = iota
	inProgress
	done
)

// SortByDependency orders concrete units so that every unit comes after the
// units it depends on. Units without a relative constraint keep their input
// order. A dependency cycle, including a unit depending on itself, is a
// ConfigurationError naming the cycle.
func SortByDependency(units []*Unit) ([]*Unit, error) {
	byName := make(map[string]*Unit, len(units))
	for _, u := range units {
		if !u.Abstract {
			byName[u.Name] = u
		}
	}

	state := make(map[string]visitState, len(byName))
	order := make([]*Unit, 0, len(byName))
	var path []string

	var visit func(u *Unit) error
	visit = func(u *Unit) error {
		switch state[u.Name] {
		case done:
			return nil
		case inProgress:
			start := 0
			for i, name := range path {
				if name == u.Name {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), u.Name)
			return configErrorf(u.Name, "dependency cycle detected: %s", strings.Join(cycle, " -> "))
		}

		state[u.Name] = inProgress
		path = append(path, u.Name)
		for _, depName := range u.DependsOn {
			dep, ok := byName[depName]
			if !ok {
				return configErrorf(u.Name, "depends on unknown unit %s", depName)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[u.Name] = done
		order = append(order, u)
		return nil
	}

	for _, u := range units {
		if u.Abstract {
			continue
		}
		if err := visit(u); err != nil {
			return nil, err
		}
	}
	return order, nil
}
