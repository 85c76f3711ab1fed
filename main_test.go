package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"data-migration/migrate"
)

func TestAlreadyReported(t *testing.T) {
	txErr := &migrate.TransactionError{Unit: "post", Err: errors.New("boom")}

	assert.True(t, alreadyReported(runFailed{err: txErr}))
	assert.True(t, alreadyReported(fmt.Errorf("cmd: %w", runFailed{err: txErr})))
	assert.False(t, alreadyReported(txErr))
	assert.False(t, alreadyReported(errors.New("failed to load config")))

	var target *migrate.TransactionError
	assert.True(t, errors.As(runFailed{err: txErr}, &target))
	assert.Equal(t, txErr.Error(), runFailed{err: txErr}.Error())
}

func TestConfirm(t *testing.T) {
	assert.True(t, confirm(strings.NewReader("y\n"), ""))
	assert.True(t, confirm(strings.NewReader(" Y \n"), ""))
	assert.False(t, confirm(strings.NewReader("yes\n"), ""))
	assert.False(t, confirm(strings.NewReader(""), ""))
}

func TestPrintPlan(t *testing.T) {
	var out strings.Builder
	printPlan(&out, []migrate.PlanEntry{
		{Name: "author", Mode: migrate.ModeUpdate},
		{Name: "post", Mode: migrate.ModeFresh, DependsOn: []string{"author", "comment"}},
	})

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "1. author")
	assert.Contains(t, lines[1], "(after author, comment)")
}
