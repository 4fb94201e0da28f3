// Package app wires the daemon together: config -> logging -> storage ->
// transport -> notify -> reminder service -> digest trigger. Construction
// is fail-fast (any config or open error aborts startup); Start/Stop are
// idempotent per the service contracts they delegate to.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/t0khyo/wa-group-reminder-sub000/internal/config"
	"github.com/t0khyo/wa-group-reminder-sub000/internal/notify"
	"github.com/t0khyo/wa-group-reminder-sub000/internal/reminder"
	"github.com/t0khyo/wa-group-reminder-sub000/internal/storage"
	"github.com/t0khyo/wa-group-reminder-sub000/internal/transport/whatsapp"
	"github.com/t0khyo/wa-group-reminder-sub000/pkg/logx"
)

type App struct {
	log       logx.Logger
	logCloser io.Closer

	store    *storage.SQLite
	adapter  *whatsapp.Adapter
	reminder *reminder.Service
	digest   *reminder.Digest
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log, logCloser, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	busyTimeout, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	adapter, err := whatsapp.New(ctx, whatsapp.Config{
		SessionPath: cfg.WhatsApp.SessionPath,
		DeviceName:  cfg.WhatsApp.DeviceName,
	}, log.With(logx.String("comp", "whatsapp")))
	if err != nil {
		_ = store.Close()
		_ = logCloser.Close()
		return nil, fmt.Errorf("init whatsapp: %w", err)
	}

	sendTimeout, _ := config.ParseDurationOrDefault("notify.send_timeout", cfg.Notify.SendTimeout, 15*time.Second)
	dispatcher := notify.New(notify.Config{
		RatePerSec:  cfg.Notify.RatePerSec,
		SendTimeout: sendTimeout,
	}, adapter, log.With(logx.String("comp", "notify")))

	opts, err := reminderOptions(cfg)
	if err != nil {
		_ = store.Close()
		_ = logCloser.Close()
		return nil, err
	}
	svc := reminder.New(opts, store, dispatcher, log.With(logx.String("comp", "reminder")))

	var digest *reminder.Digest
	if cfg.Digest.Enabled {
		digest, err = reminder.NewDigest(reminder.DigestConfig{
			Times:    cfg.Digest.Times,
			Timezone: cfg.Digest.Timezone,
		}, store, dispatcher, log.With(logx.String("comp", "digest")))
		if err != nil {
			_ = store.Close()
			_ = logCloser.Close()
			return nil, err
		}
	}

	return &App{
		log:       log,
		logCloser: logCloser,
		store:     store,
		adapter:   adapter,
		reminder:  svc,
		digest:    digest,
	}, nil
}

func reminderOptions(cfg *config.Config) (reminder.Options, error) {
	sweep, err := config.ParseDurationOrDefault("reminder.sweep_interval", cfg.Reminder.SweepInterval, 60*time.Second)
	if err != nil {
		return reminder.Options{}, err
	}
	slack, err := config.ParseDurationOrDefault("reminder.look_ahead_slack", cfg.Reminder.LookAheadSlack, 5*time.Second)
	if err != nil {
		return reminder.Options{}, err
	}
	tolerance, err := config.ParseDurationOrDefault("reminder.immediate_fire_tolerance", cfg.Reminder.ImmediateFireTolerance, 30*time.Second)
	if err != nil {
		return reminder.Options{}, err
	}
	claimTimeout, err := config.ParseDurationOrDefault("reminder.claim_timeout", cfg.Reminder.ClaimTimeout, 5*time.Minute)
	if err != nil {
		return reminder.Options{}, err
	}
	return reminder.Options{
		Offsets:                cfg.Offsets(),
		SweepInterval:          sweep,
		LookAheadSlack:         slack,
		ImmediateFireTolerance: tolerance,
		ClaimTimeout:           claimTimeout,
		DefaultTimezone:        cfg.Reminder.DefaultTimezone,
	}, nil
}

// Reminders exposes the lifecycle API to callers (command layer, tests).
func (a *App) Reminders() *reminder.Service { return a.reminder }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Start(ctx context.Context) error {
	if err := a.adapter.Connect(ctx); err != nil {
		return err
	}
	if err := a.reminder.Start(ctx); err != nil {
		return err
	}
	if a.digest != nil {
		if err := a.digest.Start(ctx); err != nil {
			return err
		}
	}
	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) {
	if a.digest != nil {
		a.digest.Stop(ctx)
	}
	a.reminder.Stop(ctx)
	a.adapter.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("app stopped")
	_ = a.logCloser.Close()
}
