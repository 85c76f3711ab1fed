package sets

import (
	"fmt"

	"gorm.io/gorm"

	"data-migration/migrate"
)

// MigrationSet is a named group of units migrated together from one legacy
// database.
type MigrationSet struct {
	Name        string
	Description string
	// Models are the target record types the units write. They are used to
	// create missing target tables.
	Models []any
	Units  []migrate.Unit
}

// CreateTables creates the target tables of the set if they do not exist.
func (s MigrationSet) CreateTables(db *gorm.DB) error {
	if len(s.Models) == 0 {
		return nil
	}
	if err := db.AutoMigrate(s.Models...); err != nil {
		return fmt.Errorf("failed to create tables of %s: %w", s.Name, err)
	}
	return nil
}
