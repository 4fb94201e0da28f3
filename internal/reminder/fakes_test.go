package reminder

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeStore is an in-memory reminder.Store with the same atomicity
// contract as the SQLite backend: claims are compare-and-set under one
// lock, so concurrent dispatch attempts race exactly like production.
type fakeStore struct {
	mu      sync.Mutex
	events  map[string]*Event
	claims  map[string]time.Time // eventID+"/"+label -> claimed at
	findErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events: map[string]*Event{},
		claims: map[string]time.Time{},
	}
}

func (f *fakeStore) put(ev *Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.ID] = copyEvent(ev)
}

func (f *fakeStore) get(id string) *Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyEvent(f.events[id])
}

func copyEvent(ev *Event) *Event {
	if ev == nil {
		return nil
	}
	cp := *ev
	cp.Stages = append([]Stage(nil), ev.Stages...)
	cp.Recipients = append([]string(nil), ev.Recipients...)
	return &cp
}

func (f *fakeStore) CreateEvent(_ context.Context, ev *Event) error {
	f.put(ev)
	return nil
}

func (f *fakeStore) GetEvent(_ context.Context, id string) (*Event, error) {
	ev := f.get(id)
	if ev == nil {
		return nil, ErrNotFound
	}
	return ev, nil
}

func (f *fakeStore) LoadActiveEvents(context.Context) ([]*Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Event
	for _, ev := range f.events {
		if ev.Status == StatusActive {
			out = append(out, copyEvent(ev))
		}
	}
	return out, nil
}

func (f *fakeStore) ListActive(_ context.Context, groupJID, ownerJID string) ([]*Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Event
	for _, ev := range f.events {
		if ev.Status != StatusActive || ev.GroupJID != groupJID {
			continue
		}
		if ownerJID != "" && ev.OwnerJID != ownerJID {
			continue
		}
		out = append(out, copyEvent(ev))
	}
	return out, nil
}

func (f *fakeStore) FindDueStages(_ context.Context, now time.Time) ([]DueStage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []DueStage
	for _, ev := range f.events {
		if ev.Status != StatusActive {
			continue
		}
		for _, st := range ev.Stages {
			if st.State == StagePending && !st.FireAt.After(now) {
				out = append(out, DueStage{EventID: ev.ID, Label: st.Label, FireAt: st.FireAt})
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ClaimStage(_ context.Context, eventID, label string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := f.events[eventID]
	if ev == nil || ev.Status != StatusActive {
		return false, nil
	}
	st := ev.Stage(label)
	if st == nil || st.State != StagePending {
		return false, nil
	}
	st.State = StageInFlight
	f.claims[eventID+"/"+label] = time.Now()
	return true, nil
}

func (f *fakeStore) CommitStage(_ context.Context, eventID, label string, final bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := f.events[eventID]
	if ev == nil {
		return errors.New("no such event")
	}
	if st := ev.Stage(label); st != nil && st.State == StageInFlight {
		st.State = StageSent
	}
	delete(f.claims, eventID+"/"+label)
	if final && ev.Status == StatusActive {
		ev.Status = StatusCompleted
	}
	return nil
}

func (f *fakeStore) RollbackStage(_ context.Context, eventID, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := f.events[eventID]
	if ev == nil {
		return nil
	}
	if st := ev.Stage(label); st != nil && st.State == StageInFlight {
		st.State = StagePending
	}
	delete(f.claims, eventID+"/"+label)
	return nil
}

func (f *fakeStore) ReleaseStaleClaims(_ context.Context, olderThan time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key, at := range f.claims {
		if !at.Before(olderThan) {
			continue
		}
		for _, ev := range f.events {
			for i := range ev.Stages {
				if ev.ID+"/"+ev.Stages[i].Label == key && ev.Stages[i].State == StageInFlight {
					ev.Stages[i].State = StagePending
					n++
				}
			}
		}
		delete(f.claims, key)
	}
	return n, nil
}

func (f *fakeStore) CancelEvent(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := f.events[id]
	if ev == nil || ev.Status != StatusActive {
		return false, nil
	}
	ev.Status = StatusCancelled
	return true, nil
}

func (f *fakeStore) RescheduleEvent(_ context.Context, id string, target time.Time, title string, stages []Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := f.events[id]
	if ev == nil {
		return ErrNotFound
	}
	if ev.Status != StatusActive {
		return ErrTerminal
	}
	ev.TargetTime = target
	ev.Title = title
	ev.Stages = append([]Stage(nil), stages...)
	return nil
}

func (f *fakeStore) PruneTerminal(_ context.Context, olderThan time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, ev := range f.events {
		if ev.Status != StatusActive && ev.CreatedAt.Before(olderThan) {
			delete(f.events, id)
			n++
		}
	}
	return n, nil
}

type sentMsg struct {
	GroupJID string
	Text     string
	Mentions []string
}

// fakeDispatcher records sends and can fail the next N attempts.
type fakeDispatcher struct {
	mu       sync.Mutex
	sends    []sentMsg
	failNext int
}

func (f *fakeDispatcher) Send(_ context.Context, groupJID, text string, mentions []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("simulated send failure")
	}
	f.sends = append(f.sends, sentMsg{GroupJID: groupJID, Text: text, Mentions: mentions})
	return nil
}

func (f *fakeDispatcher) sent() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sends...)
}
