// Package notify paces outbound sends. It implements reminder.Dispatcher
// on top of a transport Sender, adding a token-bucket rate limit, a
// per-send timeout and a best-effort typing pulse before each message.
//
// It deliberately does NOT retry: a failed send is reported to the caller
// so the dispatch path can roll the stage back, and the sweep owns the
// retry cadence.
package notify

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/t0khyo/wa-group-reminder-sub000/pkg/logx"
)

// Sender is the raw transport boundary (implemented by the WhatsApp
// adapter). An error return means the message did not go out.
type Sender interface {
	SendText(ctx context.Context, groupJID, text string, mentions []string) error
	SendTyping(ctx context.Context, groupJID string) error
}

type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
}

type Service struct {
	log     logx.Logger
	sender  Sender
	limiter *rate.Limiter
	timeout time.Duration
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		sender: sender,
		// Burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		timeout: cfg.SendTimeout,
	}
}

// Send delivers one rendered message to a group chat. Honors ctx for both
// the rate-limit wait and the send itself.
func (s *Service) Send(ctx context.Context, groupJID, text string, mentions []string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Typing pulse is cosmetic; a failure must not block the send.
	if err := s.sender.SendTyping(callCtx, groupJID); err != nil {
		s.log.Debug("typing indicator failed", logx.String("group", groupJID), logx.Err(err))
	}
	if err := s.sender.SendText(callCtx, groupJID, text, mentions); err != nil {
		return err
	}
	s.log.Debug("message sent", logx.String("group", groupJID), logx.Int("mentions", len(mentions)))
	return nil
}
