package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks everything that must be fatal at startup: malformed
// durations, a broken offset ladder, unparseable digest times, unknown
// timezones. Per-event validation does not exist; by the time an event is
// created the configuration is known good.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.WhatsApp.SessionPath) == "" {
		return errors.New("whatsapp.session_path is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	if err := validateOffsets(c.Reminder.Offsets); err != nil {
		return err
	}
	for _, f := range []struct{ path, raw string }{
		{"reminder.sweep_interval", c.Reminder.SweepInterval},
		{"reminder.look_ahead_slack", c.Reminder.LookAheadSlack},
		{"reminder.immediate_fire_tolerance", c.Reminder.ImmediateFireTolerance},
		{"reminder.claim_timeout", c.Reminder.ClaimTimeout},
		{"notify.send_timeout", c.Notify.SendTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(c.Reminder.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("reminder.default_timezone: unknown timezone %q", tz)
		}
	}

	if c.Digest.Enabled {
		if len(c.Digest.Times) == 0 {
			return errors.New("digest.times is required when digest is enabled")
		}
		for _, t := range c.Digest.Times {
			if _, err := time.Parse("15:04", strings.TrimSpace(t)); err != nil {
				return fmt.Errorf("digest.times: invalid time %q, expected HH:MM", t)
			}
		}
		if tz := strings.TrimSpace(c.Digest.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("digest.timezone: unknown timezone %q", tz)
			}
		}
	}

	if c.Notify.RatePerSec < 0 {
		return errors.New("notify.rate_per_sec must be >= 0")
	}
	return nil
}

// validateOffsets checks the stage ladder: at least one entry, strictly
// decreasing, non-negative, and the last entry must be zero ("at the moment").
func validateOffsets(raw []string) error {
	if len(raw) == 0 {
		return nil // defaults apply
	}
	prev := time.Duration(-1)
	for i, r := range raw {
		d, err := time.ParseDuration(strings.TrimSpace(r))
		if err != nil {
			return fmt.Errorf("reminder.offsets[%d]: invalid duration %q: %w", i, r, err)
		}
		if d < 0 {
			return fmt.Errorf("reminder.offsets[%d]: offset must be >= 0", i)
		}
		if i > 0 && d >= prev {
			return fmt.Errorf("reminder.offsets[%d]: offsets must be strictly decreasing", i)
		}
		prev = d
	}
	if prev != 0 {
		return errors.New("reminder.offsets: last offset must be 0 (the at-target stage)")
	}
	return nil
}

// Offsets returns the parsed offset ladder, falling back to the default
// 24h/1h/0 ladder when none is configured. Call Validate first.
func (c *Config) Offsets() []time.Duration {
	if len(c.Reminder.Offsets) == 0 {
		return []time.Duration{24 * time.Hour, time.Hour, 0}
	}
	out := make([]time.Duration, 0, len(c.Reminder.Offsets))
	for _, r := range c.Reminder.Offsets {
		d, _ := time.ParseDuration(strings.TrimSpace(r))
		out = append(out, d)
	}
	return out
}
