package reminder

import (
	"sync"
	"time"

	"github.com/t0khyo/wa-group-reminder-sub000/pkg/logx"
)

type timerKey struct {
	eventID string
	label   string
}

// Engine owns the in-memory timer handles, keyed by (event id, stage label).
// Timers are best-effort and lost on restart; the sweep is the durability
// guarantee. The engine never decides sent/unsent; the dispatch path's
// claim does that.
type Engine struct {
	log       logx.Logger
	tolerance time.Duration
	now       func() time.Time

	mu     sync.Mutex
	timers map[timerKey]*time.Timer
	// ver ignores stale callbacks from timers that were replaced or
	// cancelled after firing but before acquiring mu.
	ver map[timerKey]uint64
}

// NewEngine creates a timer engine. Stages due within tolerance are refused
// (left to the sweep) so two mechanisms don't race on near-simultaneous
// startup firing.
func NewEngine(tolerance time.Duration, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		log:       log,
		tolerance: tolerance,
		now:       time.Now,
		timers:    map[timerKey]*time.Timer{},
		ver:       map[timerKey]uint64{},
	}
}

// Schedule registers a delayed callback for one stage. An existing timer
// for the same key is cancelled first. Returns false when fireAt is past
// or within the immediate-fire tolerance.
func (e *Engine) Schedule(eventID, label string, fireAt time.Time, fn func()) bool {
	delay := fireAt.Sub(e.now())
	if delay <= e.tolerance {
		return false
	}

	k := timerKey{eventID: eventID, label: label}
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.timers[k]; ok {
		_ = t.Stop()
		delete(e.timers, k)
	}
	ver := e.ver[k] + 1
	e.ver[k] = ver

	e.timers[k] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		if e.ver[k] != ver {
			// replaced or cancelled in the meantime
			e.mu.Unlock()
			return
		}
		delete(e.timers, k)
		delete(e.ver, k)
		e.mu.Unlock()
		fn()
	})
	e.log.Trace("stage timer set", logx.String("event", eventID), logx.String("stage", label), logx.Duration("in", delay))
	return true
}

// CancelAll stops every outstanding timer for the event and returns how
// many were cancelled. Called on event cancellation and before re-priming
// on reschedule.
func (e *Engine) CancelAll(eventID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for k, t := range e.timers {
		if k.eventID != eventID {
			continue
		}
		_ = t.Stop()
		delete(e.timers, k)
		e.ver[k]++
		n++
	}
	return n
}

// Stop cancels all timers. The engine can be re-primed afterwards.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, t := range e.timers {
		_ = t.Stop()
		delete(e.timers, k)
		e.ver[k]++
	}
}

// Len reports the number of live timers.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}
