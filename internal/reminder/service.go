package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/t0khyo/wa-group-reminder-sub000/pkg/logx"
)

// Options tunes the scheduler. Zero fields fall back to defaults.
type Options struct {
	// Offsets is the stage ladder, largest first, last entry zero.
	// Validated by config before the service is constructed.
	Offsets []time.Duration

	SweepInterval time.Duration
	// LookAheadSlack widens the sweep's due query to absorb clock skew
	// between a sweep tick and a timer firing.
	LookAheadSlack time.Duration
	// ImmediateFireTolerance: stages due within this window get no timer;
	// the next sweep tick fires them.
	ImmediateFireTolerance time.Duration
	// ClaimTimeout releases inflight claims older than this back to
	// pending (a dispatch that died mid-flight).
	ClaimTimeout time.Duration

	DefaultTimezone string
}

func (o Options) withDefaults() Options {
	if len(o.Offsets) == 0 {
		o.Offsets = []time.Duration{24 * time.Hour, time.Hour, 0}
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 60 * time.Second
	}
	if o.LookAheadSlack <= 0 {
		o.LookAheadSlack = 5 * time.Second
	}
	if o.ImmediateFireTolerance <= 0 {
		o.ImmediateFireTolerance = 30 * time.Second
	}
	if o.ClaimTimeout <= 0 {
		o.ClaimTimeout = 5 * time.Minute
	}
	if strings.TrimSpace(o.DefaultTimezone) == "" {
		o.DefaultTimezone = "UTC"
	}
	return o
}

// CreateParams are the caller-supplied fields of a new event. TargetTime
// comes from the upstream date parser as an absolute instant; this package
// never reinterprets it.
type CreateParams struct {
	GroupJID        string
	OwnerJID        string
	Title           string
	Recipients      []string
	TargetTime      time.Time
	DisplayTimezone string
}

// Service is the event lifecycle manager: the public create/cancel/
// reschedule API, startup priming, and the sweep loop.
type Service struct {
	opts   Options
	store  Store
	disp   Dispatcher
	timers *Engine
	log    logx.Logger
	now    func() time.Time

	mu        sync.Mutex
	running   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	sweepWG   sync.WaitGroup
}

func New(opts Options, store Store, disp Dispatcher, log logx.Logger) *Service {
	opts = opts.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		opts:   opts,
		store:  store,
		disp:   disp,
		timers: NewEngine(opts.ImmediateFireTolerance, log),
		log:    log,
		now:    time.Now,
	}
}

// Start primes timers from the store and launches the sweep loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.mu.Unlock()

	if err := s.prime(ctx); err != nil {
		// Priming failure is not fatal: the sweep will pick everything up,
		// just without per-stage timer precision until the next restart.
		s.log.Error("startup priming failed; relying on sweep", logx.Err(err))
	}

	s.sweepWG.Add(1)
	go func() {
		defer s.sweepWG.Done()
		s.sweepLoop(runCtx)
	}()
	s.log.Info("reminder service started",
		logx.Duration("sweep_interval", s.opts.SweepInterval),
		logx.Int("timers", s.timers.Len()))
	return nil
}

// Stop halts the sweep and drops all in-memory timers. Persisted state is
// untouched; a later Start (or process restart) rebuilds everything.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.runCancel
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	cancel()
	s.timers.Stop()

	done := make(chan struct{})
	go func() {
		s.sweepWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("reminder service stopped")
	case <-ctx.Done():
		// sweep finishes in background
	}
}

// Create persists a new active event with stages derived from the offset
// ladder and primes timers for the future ones.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Event, error) {
	if strings.TrimSpace(p.GroupJID) == "" {
		return nil, errors.New("group jid required")
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, errors.New("title required")
	}
	if p.TargetTime.IsZero() {
		return nil, errors.New("target time required")
	}
	tz := strings.TrimSpace(p.DisplayTimezone)
	if tz == "" {
		tz = s.opts.DefaultTimezone
	}

	now := s.now().UTC()
	ev := &Event{
		ID:              uuid.NewString(),
		GroupJID:        p.GroupJID,
		OwnerJID:        strings.TrimSpace(p.OwnerJID),
		Title:           title,
		Recipients:      dedupeRecipients(p.Recipients),
		TargetTime:      p.TargetTime.UTC(),
		DisplayTimezone: tz,
		Stages:          ComputeStages(p.TargetTime.UTC(), s.opts.Offsets),
		Status:          StatusActive,
		CreatedAt:       now,
	}
	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return nil, err
	}
	s.primeEvent(ev)
	s.log.Info("event created",
		logx.String("event", ev.ID),
		logx.String("group", ev.GroupJID),
		logx.Time("target", ev.TargetTime),
		logx.Int("stages", len(ev.Stages)))
	return ev, nil
}

// Cancel marks the event cancelled and drops its timers. Cancelling an
// already-terminal or unknown event reports ErrTerminal/ErrNotFound; other
// events are unaffected. A dispatch already inflight at this moment may
// still land (last-message-may-still-arrive), but nothing fires after it.
func (s *Service) Cancel(ctx context.Context, id string) error {
	ok, err := s.store.CancelEvent(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTerminal
	}
	n := s.timers.CancelAll(id)
	s.log.Info("event cancelled", logx.String("event", id), logx.Int("timers_dropped", n))
	return nil
}

// Reschedule moves an active event to a new target time and/or title.
// All stage fire times are recomputed; any stage whose new fire time is in
// the future goes back to pending even if it was already sent under the
// old schedule (the semantic event has moved). Past-due stages keep their
// state.
func (s *Service) Reschedule(ctx context.Context, id string, newTarget *time.Time, newTitle *string) (*Event, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status != StatusActive {
		return nil, ErrTerminal
	}

	target := ev.TargetTime
	if newTarget != nil && !newTarget.IsZero() {
		target = newTarget.UTC()
	}
	title := ev.Title
	if newTitle != nil && strings.TrimSpace(*newTitle) != "" {
		title = strings.TrimSpace(*newTitle)
	}

	now := s.now().UTC()
	stages := ComputeStages(target, s.opts.Offsets)
	for i := range stages {
		if stages[i].FireAt.After(now) {
			continue // reset to pending (ComputeStages default)
		}
		// Fire time is already past: keep whatever state the old schedule
		// reached so sent stages are not re-delivered.
		if old := ev.Stage(stages[i].Label); old != nil {
			stages[i].State = old.State
		}
	}

	if err := s.store.RescheduleEvent(ctx, id, target, title, stages); err != nil {
		return nil, err
	}

	s.timers.CancelAll(id)
	ev.TargetTime = target
	ev.Title = title
	ev.Stages = stages
	s.primeEvent(ev)
	s.log.Info("event rescheduled", logx.String("event", id), logx.Time("target", target))
	return ev, nil
}

// ListActive is a read-only projection of active events for one group,
// optionally filtered by owner.
func (s *Service) ListActive(ctx context.Context, groupJID, ownerJID string) ([]*Event, error) {
	return s.store.ListActive(ctx, groupJID, ownerJID)
}

// primeEvent schedules timers for the event's future pending stages. The
// dispatch callback uses the service run context so a timer firing during
// shutdown is cut short.
func (s *Service) primeEvent(ev *Event) {
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil {
		// not started yet; startup priming will cover it
		return
	}
	for _, st := range ev.Stages {
		if st.State != StagePending {
			continue
		}
		id, label := ev.ID, st.Label
		s.timers.Schedule(id, label, st.FireAt, func() {
			s.dispatchStage(runCtx, id, label)
		})
	}
}

func dedupeRecipients(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
