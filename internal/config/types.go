package config

// Config is the full daemon configuration. It is read once at startup;
// there is no hot-reload.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Reminder ReminderConfig `json:"reminder"`
	Digest   DigestConfig   `json:"digest"`
	Notify   NotifyConfig   `json:"notify,omitempty"`
}

type WhatsAppConfig struct {
	// SessionPath is the SQLite file holding the WhatsApp device session.
	SessionPath string `json:"session_path"`
	// DeviceName is shown in the phone's linked-devices list.
	DeviceName string `json:"device_name,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the reminder store.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ReminderConfig controls stage computation and the reconciliation sweep.
//
// Defaults (when fields are omitted/zero):
//   - offsets: ["24h", "1h", "0s"]
//   - sweep_interval: "60s"
//   - look_ahead_slack: "5s"
//   - immediate_fire_tolerance: "30s"
//   - claim_timeout: "5m"
//   - default_timezone: "UTC"
type ReminderConfig struct {
	// Offsets are durations before the target time, largest first.
	// The list must end with a zero offset ("at the moment" stage).
	Offsets []string `json:"offsets,omitempty"`

	SweepInterval string `json:"sweep_interval,omitempty"`

	// LookAheadSlack widens the sweep's due query slightly to absorb
	// clock skew between the sweep tick and timer firing.
	LookAheadSlack string `json:"look_ahead_slack,omitempty"`

	// ImmediateFireTolerance: stages due within this window are not given
	// an in-memory timer; the next sweep tick picks them up instead.
	ImmediateFireTolerance string `json:"immediate_fire_tolerance,omitempty"`

	// ClaimTimeout: in-flight stages older than this are released back to
	// pending (crash recovery for a dispatch that never finished).
	ClaimTimeout string `json:"claim_timeout,omitempty"`

	DefaultTimezone string `json:"default_timezone,omitempty"`
}

// DigestConfig controls the recurring group digest. Times are wall-clock
// HH:MM entries in Timezone. An empty Times list disables the digest.
type DigestConfig struct {
	Enabled  bool     `json:"enabled"`
	Times    []string `json:"times,omitempty"`
	Timezone string   `json:"timezone,omitempty"`
}

// NotifyConfig controls outbound send pacing.
//
// Defaults: rate_per_sec=1, send_timeout="15s".
type NotifyConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}
