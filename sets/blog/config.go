// Package blog migrates the authors, comments and posts of the legacy blog.
package blog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"data-migration/migrate"
	"data-migration/sets"
	"data-migration/store"
)

const legacyTimeLayout = "2006-01-02 15:04:05"

func GetMigrationSet() sets.MigrationSet {
	return sets.MigrationSet{
		Name:        "blog",
		Description: "legacy blog: authors, their comments and posts",
		Models:      []any{&Author{}, &Comment{}, &Post{}},
		Units:       Units(),
	}
}

// Units returns the blog units in declaration order. Execution order comes
// from DependsOn.
func Units() []migrate.Unit {
	post := legacyPost.Derive("post")
	post.Columns["author"] = migrate.MustIs(&Author{}, "id", migrate.ForeignKey(), migrate.AssignByID())
	post.DependsOn = append(post.DependsOn, "author")

	return []migrate.Unit{legacyPost, post, comment(), author()}
}

func author() migrate.Unit {
	return migrate.Unit{
		Name:         "author",
		Model:        &Author{},
		Query:        "SELECT id, name, email FROM authors ORDER BY id",
		AllowUpdates: true,
		SearchAttr:   "id",
		Hooks: migrate.Hooks{
			UpdateExisting: updateAuthor,
		},
	}
}

// updateAuthor copies name and email of the legacy row onto the record.
// Running it twice with the same row changes nothing.
func updateAuthor(ctx context.Context, t migrate.Target, existing any, row migrate.Row) error {
	db, ok := store.GormDB(t)
	if !ok {
		return fmt.Errorf("author update needs a gorm target, got %T", t)
	}
	return db.WithContext(ctx).Model(existing).Updates(map[string]any{
		"name":  row["name"],
		"email": row["email"],
	}).Error
}

func comment() migrate.Unit {
	return migrate.Unit{
		Name:  "comment",
		Model: &Comment{},
		Query: "SELECT id, author, text FROM comments ORDER BY id",
		Columns: map[string]migrate.ColumnDescriptor{
			// some comments belong to accounts deleted since
			"author": migrate.MustIs(&Author{}, "id", migrate.ForeignKey(), migrate.SkipMissing()),
		},
		DependsOn: []string{"author"},
	}
}

// legacyPost is shared by every post-like table of the old system.
var legacyPost = migrate.Unit{
	Name:     "legacy_post",
	Abstract: true,
	Model:    &Post{},
	Query:    "SELECT id, title, posted, author, comments FROM posts ORDER BY id",
	Columns: map[string]migrate.ColumnDescriptor{
		"comments": migrate.MustIs(&Comment{}, "id", migrate.ManyToMany(), migrate.Delimiter(",")),
	},
	DependsOn: []string{"comment"},
	Hooks: migrate.Hooks{
		BeforeTransformation: parsePosted,
	},
}

func parsePosted(_ context.Context, row migrate.Row) error {
	s, ok := row["posted"].(string)
	if !ok {
		return nil
	}
	posted, err := time.Parse(legacyTimeLayout, strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid posted date %q: %w", s, err)
	}
	row["posted"] = posted.UTC()
	return nil
}
