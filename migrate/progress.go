package migrate

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// Progress receives per-row progress of one unit. total is advisory and may
// be -1 when unknown.
type Progress interface {
	// Step reports the current row of a fresh run.
	Step(current, total int)
	// Search reports an update run: records found, records created.
	Search(existing, created, total int)
	Done()
}

// ProgressFactory creates the progress reporter of one unit.
type ProgressFactory func(unit string) Progress

// LineProgress rewrites a single status line on w.
func LineProgress(w io.Writer) ProgressFactory {
	return func(string) Progress { return &lineProgress{w: w} }
}

type lineProgress struct {
	w       io.Writer
	written bool
}

func (p *lineProgress) Step(current, total int) {
	p.written = true
	fmt.Fprintf(p.w, "\rMigrating element %d/%d", current, total)
}

func (p *lineProgress) Search(existing, created, total int) {
	p.written = true
	fmt.Fprintf(p.w, "\rSearch for missing Instances (exist/created/total):  %d/%d/%d", existing, created, total)
}

func (p *lineProgress) Done() {
	if p.written {
		fmt.Fprintln(p.w)
	}
}

// BarProgress renders a terminal progress bar on w.
func BarProgress(w io.Writer) ProgressFactory {
	return func(unit string) Progress { return &barProgress{w: w, unit: unit} }
}

type barProgress struct {
	w    io.Writer
	unit string
	bar  *progressbar.ProgressBar
}

func (p *barProgress) ensure(total int, desc string) {
	if p.bar != nil {
		return
	}
	if total <= 0 {
		total = -1
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.w) }),
	)
}

func (p *barProgress) Step(current, total int) {
	p.ensure(total, "⏳ "+p.unit)
	_ = p.bar.Set(current)
}

func (p *barProgress) Search(existing, created, total int) {
	p.ensure(total, "♻️  "+p.unit)
	p.bar.Describe(fmt.Sprintf("♻️  %s (exist %d, created %d)", p.unit, existing, created))
	_ = p.bar.Set(existing + created)
}

func (p *barProgress) Done() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

type nopProgress struct{}

func (nopProgress) Step(int, int)        {}
func (nopProgress) Search(int, int, int) {}
func (nopProgress) Done()                {}
