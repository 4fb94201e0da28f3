package reminder

import (
	"context"
	"time"

	"github.com/t0khyo/wa-group-reminder-sub000/pkg/logx"
)

// sweepLoop is the reconciliation backstop: every tick it fires any
// due-but-unsent stage regardless of in-memory timer state. Worst-case
// delivery lateness after a crash or missed timer is one sweep interval
// plus processing time. A failed tick must never take the process down.
func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	// First tick immediately so stages that became due while the process
	// was down don't wait a full interval.
	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	now := s.now().UTC()

	// Crash recovery: claims whose dispatch died mid-flight go back to
	// pending so this tick (or the next) can retry them.
	if n, err := s.store.ReleaseStaleClaims(ctx, now.Add(-s.opts.ClaimTimeout)); err != nil {
		s.log.Error("stale claim release failed", logx.Err(err))
	} else if n > 0 {
		s.log.Warn("released stale inflight claims", logx.Int("count", n))
	}

	due, err := s.store.FindDueStages(ctx, now.Add(s.opts.LookAheadSlack))
	if err != nil {
		s.log.Error("sweep query failed; retrying next tick", logx.Err(err))
		return
	}
	for _, d := range due {
		if ctx.Err() != nil {
			return
		}
		s.dispatchStage(ctx, d.EventID, d.Label)
	}
	if len(due) > 0 {
		s.log.Debug("sweep tick dispatched", logx.Int("due", len(due)))
	}
}

// prime rebuilds in-memory timers from persisted state on startup. Future
// stages get a dedicated timer; past-due stages are deliberately left to
// the first sweep tick so a restart doesn't trigger a thundering herd of
// synchronous sends.
func (s *Service) prime(ctx context.Context) error {
	events, err := s.store.LoadActiveEvents(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil {
		runCtx = ctx
	}

	scheduled := 0
	for _, ev := range events {
		for _, st := range ev.Stages {
			if st.State != StagePending {
				continue
			}
			id, label := ev.ID, st.Label
			if s.timers.Schedule(id, label, st.FireAt, func() {
				s.dispatchStage(runCtx, id, label)
			}) {
				scheduled++
			}
		}
	}
	s.log.Info("timers primed from store",
		logx.Int("events", len(events)),
		logx.Int("timers", scheduled))
	return nil
}
