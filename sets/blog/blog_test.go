package blog

import (
	"bytes"
	"context"
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"data-migration/migrate"
	"data-migration/source"
	"data-migration/store"
)

type env struct {
	legacy *sql.DB
	target *gorm.DB
	store  *store.Store
	logs   bytes.Buffer
	errs   bytes.Buffer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()

	legacy, err := sql.Open("sqlite", filepath.Join(dir, "legacy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = legacy.Close() })

	fixtures, err := os.ReadFile(filepath.Join("testdata", "fixtures.sql"))
	require.NoError(t, err)
	for _, stmt := range strings.Split(string(fixtures), ";\n") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := legacy.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	target, err := gorm.Open(sqlite.Open(filepath.Join(dir, "target.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := target.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, GetMigrationSet().CreateTables(target))

	st, err := store.New(target)
	require.NoError(t, err)
	return &env{legacy: legacy, target: target, store: st}
}

func (e *env) migrator() *migrate.Migrator {
	return migrate.NewMigrator(e.store, source.New(e.legacy), GetMigrationSet().Units,
		migrate.WithLogger(log.New(&e.logs, "", 0)),
		migrate.WithErrorOutput(&e.errs),
		migrate.WithProgress(nil),
	)
}

func (e *env) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.target.Model(model).Count(&n).Error)
	return n
}

func TestBlog_Plan(t *testing.T) {
	e := newEnv(t)

	plan, err := e.migrator().Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan, 3)

	assert.Equal(t, "author", plan[0].Name)
	assert.Equal(t, "comment", plan[1].Name)
	assert.Equal(t, "post", plan[2].Name)
	for _, p := range plan {
		assert.Equal(t, migrate.ModeFresh, p.Mode)
	}
}

func TestBlog_DryRun(t *testing.T) {
	e := newEnv(t)

	report, err := e.migrator().Run(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, report.Committed)
	require.Len(t, report.Units, 3)
	assert.Equal(t, 10, report.Units[2].Created)

	assert.Zero(t, e.count(t, &Author{}))
	assert.Zero(t, e.count(t, &Post{}))
	entries, err := e.store.AppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Contains(t, e.errs.String(), "Not committing!")
}

func TestBlog_Commit(t *testing.T) {
	e := newEnv(t)

	report, err := e.migrator().Run(context.Background(), true)
	require.NoError(t, err, e.errs.String())
	require.True(t, report.Committed)

	assert.EqualValues(t, 10, e.count(t, &Author{}))
	assert.EqualValues(t, 20, e.count(t, &Comment{}))
	assert.EqualValues(t, 10, e.count(t, &Post{}))

	var orphaned int64
	require.NoError(t, e.target.Model(&Comment{}).Where("author_id IS NULL").Count(&orphaned).Error)
	assert.EqualValues(t, 2, orphaned)

	var c Comment
	require.NoError(t, e.target.Preload("Author").First(&c, 11).Error)
	require.NotNil(t, c.Author)
	assert.Equal(t, "Author 1", c.Author.Name)

	var p Post
	require.NoError(t, e.target.Preload("Comments").First(&p, 9).Error)
	assert.Equal(t, "Post 9", p.Title)
	require.NotNil(t, p.AuthorID)
	assert.Equal(t, uint(9), *p.AuthorID)
	assert.True(t, p.Posted.Equal(time.Date(2021, 1, 9, 12, 0, 0, 0, time.UTC)))
	require.Len(t, p.Comments, 3)

	var links int64
	require.NoError(t, e.target.Table("post_comments").Count(&links).Error)
	assert.EqualValues(t, 20, links)

	entries, err := e.store.AppliedMigrations(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "author", entries[0].Unit)
	assert.Equal(t, "post", entries[2].Unit)
}

func TestBlog_UpdateRun(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.migrator().Run(ctx, true)
	require.NoError(t, err, e.errs.String())

	_, err = e.legacy.Exec("UPDATE authors SET name = 'Ada Lovelace' WHERE id = 1")
	require.NoError(t, err)
	_, err = e.legacy.Exec("INSERT INTO authors (id, name, email) VALUES (11, 'Author 11', 'author11@example.com')")
	require.NoError(t, err)
	_, err = e.legacy.Exec("INSERT INTO comments (id, author, text) VALUES (21, 11, 'late comment')")
	require.NoError(t, err)

	report, err := e.migrator().Run(ctx, true)
	require.NoError(t, err, e.errs.String())

	require.Len(t, report.Units, 3)
	assert.Equal(t, migrate.ModeUpdate, report.Units[0].Mode)
	assert.Equal(t, 10, report.Units[0].Updated)
	assert.Equal(t, 1, report.Units[0].Created)
	assert.Equal(t, migrate.ModeSkip, report.Units[1].Mode)
	assert.Equal(t, migrate.ModeSkip, report.Units[2].Mode)

	var a Author
	require.NoError(t, e.target.First(&a, 1).Error)
	assert.Equal(t, "Ada Lovelace", a.Name)
	assert.EqualValues(t, 11, e.count(t, &Author{}))
	// comment is not updatable, the new legacy row stays behind
	assert.EqualValues(t, 20, e.count(t, &Comment{}))

	require.NoError(t, e.store.Forget(ctx, "comment"))
	plan, err := e.migrator().Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrate.ModeFresh, plan[1].Mode)
}

func TestParsePosted(t *testing.T) {
	row := migrate.Row{"posted": " 2021-03-04 05:06:07 "}
	require.NoError(t, parsePosted(context.Background(), row))
	assert.Equal(t, time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), row["posted"])

	assert.Error(t, parsePosted(context.Background(), migrate.Row{"posted": "yesterday"}))
	assert.NoError(t, parsePosted(context.Background(), migrate.Row{"posted": nil}))
}

func TestUnits_Valid(t *testing.T) {
	units := Units()
	for i := range units {
		if units[i].Abstract {
			continue
		}
		assert.NoError(t, migrate.ValidateUnit(&units[i]), units[i].Name)
	}
	assert.Len(t, legacyPost.Columns, 1)
}
