package reminder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/t0khyo/wa-group-reminder-sub000/pkg/logx"
)

// DigestConfig holds the recurring digest trigger times (wall-clock HH:MM
// in Timezone). An empty Times list disables the trigger.
type DigestConfig struct {
	Times    []string
	Timezone string
}

// Digest is the recurring snapshot trigger. It reuses nothing from the
// per-event stage machinery on purpose: each firing is a stateless
// "compute current snapshot, send if non-empty" pass over the store, with
// no persisted sent flag. A firing missed while the process is down is
// skipped, not retried: the digest is a cadence nudge, not a guaranteed
// delivery.
type Digest struct {
	log   logx.Logger
	store Store
	disp  Dispatcher
	loc   *time.Location
	times []string
	now   func() time.Time

	c *cron.Cron
}

func NewDigest(cfg DigestConfig, store Store, disp Dispatcher, log logx.Logger) (*Digest, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("digest timezone: %w", err)
		}
		loc = l
	}
	times := make([]string, 0, len(cfg.Times))
	for _, t := range cfg.Times {
		if _, _, err := parseHHMM(t); err != nil {
			return nil, err
		}
		times = append(times, strings.TrimSpace(t))
	}
	return &Digest{log: log, store: store, disp: disp, loc: loc, times: times, now: time.Now}, nil
}

// Start registers one cron entry per configured trigger time.
func (d *Digest) Start(ctx context.Context) error {
	if len(d.times) == 0 {
		d.log.Info("digest disabled (no trigger times)")
		return nil
	}
	d.c = cron.New(cron.WithLocation(d.loc))
	for _, t := range d.times {
		h, m, _ := parseHHMM(t)
		spec := fmt.Sprintf("%d %d * * *", m, h)
		if _, err := d.c.AddFunc(spec, func() { d.fire(ctx) }); err != nil {
			return fmt.Errorf("digest trigger %q: %w", t, err)
		}
	}
	d.c.Start()
	d.log.Info("digest trigger started",
		logx.Any("times", d.times),
		logx.String("tz", d.loc.String()))
	return nil
}

func (d *Digest) Stop(ctx context.Context) {
	if d.c == nil {
		return
	}
	select {
	case <-d.c.Stop().Done():
	case <-ctx.Done():
	}
	d.c = nil
}

// fire computes the current snapshot per group and sends one digest to
// each group with open reminders. Empty snapshots send nothing.
func (d *Digest) fire(ctx context.Context) {
	events, err := d.store.LoadActiveEvents(ctx)
	if err != nil {
		d.log.Error("digest snapshot failed; skipping firing", logx.Err(err))
		return
	}

	byGroup := map[string][]*Event{}
	for _, ev := range events {
		byGroup[ev.GroupJID] = append(byGroup[ev.GroupJID], ev)
	}

	now := d.now().UTC()
	sent := 0
	for jid, evs := range byGroup {
		text := renderDigest(evs, now)
		if text == "" {
			continue
		}
		if err := d.disp.Send(ctx, jid, text, nil); err != nil {
			// No retry: the next trigger sends a fresh snapshot anyway.
			d.log.Warn("digest send failed", logx.String("group", jid), logx.Err(err))
			continue
		}
		sent++
	}
	d.log.Debug("digest fired", logx.Int("groups", len(byGroup)), logx.Int("sent", sent))
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
