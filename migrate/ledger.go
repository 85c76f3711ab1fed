package migrate

import (
	"context"
	"fmt"
)

// Mode is the way a unit is executed in a run.
type Mode int

const (
	// ModeFresh runs a unit that has never completed.
	ModeFresh Mode = iota
	// ModeUpdate re-runs a completed unit that allows updates.
	ModeUpdate
	// ModeSkip leaves a completed unit alone.
	ModeSkip
)

func (m Mode) String() string {
	switch m {
	case ModeFresh:
		return "fresh"
	case ModeUpdate:
		return "update"
	case ModeSkip:
		return "skip"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Decide picks the run mode of u from the ledger:
//
//	never applied              -> ModeFresh
//	applied, AllowUpdates      -> ModeUpdate
//	applied, no AllowUpdates   -> ModeSkip
//
// On a ledger error the mode is the zero value, ModeFresh.
func Decide(ctx context.Context, l Ledger, u *Unit) (Mode, error) {
	applied, err := l.Applied(ctx, u.Name)
	if err != nil {
		return ModeFresh, fmt.Errorf("failed to read ledger for %s: %w", u.Name, err)
	}
	switch {
	case !applied:
		return ModeFresh, nil
	case u.AllowUpdates:
		return ModeUpdate, nil
	default:
		return ModeSkip, nil
	}
}
