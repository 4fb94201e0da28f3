package reminder

import (
	"context"

	"github.com/t0khyo/wa-group-reminder-sub000/pkg/logx"
)

// dispatchStage is the single delivery path shared by the timer engine and
// the sweep: claim -> render -> deliver -> commit, with rollback on a
// failed send so the next sweep tick retries.
//
// The claim is a compare-and-set against the store (pending -> inflight,
// only while the event is active). When a timer and a sweep tick notice
// the same due stage, exactly one claim wins; the loser returns without
// side effects.
func (s *Service) dispatchStage(ctx context.Context, eventID, label string) {
	ok, err := s.store.ClaimStage(ctx, eventID, label)
	if err != nil {
		s.log.Error("stage claim failed", logx.String("event", eventID), logx.String("stage", label), logx.Err(err))
		return
	}
	if !ok {
		// Normal outcome of the at-most-once guarantee: someone else
		// claimed it, it is already sent, or the event went terminal.
		s.log.Debug("stage claim lost", logx.String("event", eventID), logx.String("stage", label))
		return
	}

	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		s.rollback(ctx, eventID, label, err)
		return
	}
	st := ev.Stage(label)
	if st == nil {
		// Stage ladder changed under us (reschedule with new offsets).
		s.rollback(ctx, eventID, label, nil)
		return
	}

	text, mentions := renderStage(ev, *st)
	if err := s.disp.Send(ctx, ev.GroupJID, text, mentions); err != nil {
		s.rollback(ctx, eventID, label, err)
		return
	}

	final := st.Offset == 0
	if err := s.store.CommitStage(ctx, eventID, label, final); err != nil {
		// The message is out but the flag write failed; the stage stays
		// inflight until the claim timeout releases it. Worst case is one
		// duplicate after the timeout; delivery is never silently lost.
		s.log.Error("stage commit failed", logx.String("event", eventID), logx.String("stage", label), logx.Err(err))
		return
	}
	s.log.Info("stage sent",
		logx.String("event", eventID),
		logx.String("stage", label),
		logx.Bool("final", final))
}

func (s *Service) rollback(ctx context.Context, eventID, label string, cause error) {
	if err := s.store.RollbackStage(ctx, eventID, label); err != nil {
		s.log.Error("stage rollback failed", logx.String("event", eventID), logx.String("stage", label), logx.Err(err))
		return
	}
	s.log.Warn("stage delivery failed; will retry on next sweep",
		logx.String("event", eventID), logx.String("stage", label), logx.Err(cause))
}
