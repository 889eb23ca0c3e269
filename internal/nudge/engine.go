package nudge

import (
	"time"

	"github.com/linnemanlabs/go-core/xerrors"
)

// Cooldown is how long the prompt stays hidden after any dismissal.
const Cooldown = 14 * 24 * time.Hour

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Verdict is the outcome of gating a selection.
type Verdict string

const (
	VerdictShow      Verdict = "show"
	VerdictOptOut    Verdict = "opt_out"
	VerdictCooldown  Verdict = "cooldown"
	VerdictNoTrigger Verdict = "no_trigger"
)

// Engine holds the selection and dismissal rules. It performs no I/O and
// keeps no state besides its clock.
type Engine struct {
	clock Clock
}

// NewEngine creates an engine. A nil clock uses the system clock.
func NewEngine(clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock
	}
	return &Engine{clock: clock}
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Select walks groups then triggers in catalog order and returns the first
// trigger whose conditions all hold and whose group was not dismissed at or
// above its priority. It returns nil when nothing qualifies.
func (e *Engine) Select(c *Catalog, rec *Record) *Selection {
	for _, g := range c.Groups() {
		dismissed, seen := dismissedAt(rec, g.Key)
		for i := range g.Triggers {
			t := &g.Triggers[i]
			if !t.Fires() {
				continue
			}
			if seen && dismissed >= t.Priority.Value {
				continue
			}
			return &Selection{
				Group:    g.Key,
				Code:     t.Code,
				Priority: t.Priority.Value,
				Message:  t.Message,
				Link:     t.Link,
			}
		}
	}
	return nil
}

// Gate decides whether a selection may be rendered now.
func (e *Engine) Gate(rec *Record, sel *Selection) Verdict {
	if rec != nil && rec.AlreadyDid {
		return VerdictOptOut
	}
	if rec != nil && !rec.LastDismissedAt.IsZero() && e.clock.Now().Before(rec.LastDismissedAt.Add(Cooldown)) {
		return VerdictCooldown
	}
	if sel == nil {
		return VerdictNoTrigger
	}
	return VerdictShow
}

// ShouldSuppress reports whether nothing must be rendered. Callers check it
// before rendering any selection.
func (e *Engine) ShouldSuppress(rec *Record, sel *Selection) bool {
	return e.Gate(rec, sel) != VerdictShow
}

// ApplyDismissal returns the record that results from the user closing sel
// with the given reason. The input record is not modified. Reasons outside
// the known set only do the bookkeeping of ReasonMaybeLater.
func (e *Engine) ApplyDismissal(rec *Record, sel *Selection, reason Reason) *Record {
	if sel == nil {
		panic(xerrors.New("nudge: ApplyDismissal called without a selection"))
	}

	next := rec.Clone()
	if next.DismissedGroups == nil {
		next.DismissedGroups = make(map[string]int, 1)
	}
	if prev, ok := next.DismissedGroups[sel.Group]; !ok || sel.Priority > prev {
		next.DismissedGroups[sel.Group] = sel.Priority
	}
	next.LastDismissedAt = e.clock.Now()
	if reason.closes() {
		next.AlreadyDid = true
	}
	return next
}

func dismissedAt(rec *Record, group string) (int, bool) {
	if rec == nil {
		return 0, false
	}
	p, ok := rec.DismissedGroups[group]
	return p, ok
}
