package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/t0khyo/wa-group-reminder-sub000/pkg/logx"
)

type fakeSender struct {
	mu         sync.Mutex
	texts      []string
	typings    int
	textErr    error
	typingErr  error
	lastDL     time.Time
	sawDL      bool
	mentionLen int
}

func (f *fakeSender) SendText(ctx context.Context, groupJID, text string, mentions []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		f.sawDL, f.lastDL = true, dl
	}
	if f.textErr != nil {
		return f.textErr
	}
	f.texts = append(f.texts, text)
	f.mentionLen = len(mentions)
	return nil
}

func (f *fakeSender) SendTyping(ctx context.Context, groupJID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typings++
	return f.typingErr
}

func TestSendDeliversWithDeadline(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	svc := New(Config{RatePerSec: 100, SendTimeout: 5 * time.Second}, snd, logx.Nop())

	if err := svc.Send(context.Background(), "g@g.us", "hello", []string{"a@s.whatsapp.net"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(snd.texts) != 1 || snd.texts[0] != "hello" {
		t.Fatalf("texts = %v", snd.texts)
	}
	if snd.mentionLen != 1 {
		t.Fatalf("mentions = %d, want 1", snd.mentionLen)
	}
	if !snd.sawDL {
		t.Fatal("send must carry a deadline")
	}
	if snd.typings != 1 {
		t.Fatalf("typing pulses = %d, want 1", snd.typings)
	}
}

func TestSendPropagatesTransportError(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("socket closed")
	snd := &fakeSender{textErr: wantErr}
	svc := New(Config{RatePerSec: 100}, snd, logx.Nop())

	if err := svc.Send(context.Background(), "g@g.us", "x", nil); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want transport error surfaced", err)
	}
}

func TestSendIgnoresTypingFailure(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{typingErr: errors.New("presence refused")}
	svc := New(Config{RatePerSec: 100}, snd, logx.Nop())

	if err := svc.Send(context.Background(), "g@g.us", "x", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(snd.texts) != 1 {
		t.Fatal("text must go out even when typing pulse fails")
	}
}

func TestSendHonorsCancelledContext(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	// Rate 1/s with the bucket drained forces Wait to block, so the
	// cancelled context is the only way out.
	svc := New(Config{RatePerSec: 1}, snd, logx.Nop())
	_ = svc.Send(context.Background(), "g@g.us", "drain", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Send(ctx, "g@g.us", "x", nil); err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if len(snd.texts) != 1 {
		t.Fatalf("texts = %v, want only the drain message", snd.texts)
	}
}
