// Package whatsapp wraps the whatsmeow client behind the small Sender
// boundary the rest of the daemon uses. Session state lives in its own
// SQLite file next to the reminder store.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/t0khyo/wa-group-reminder-sub000/pkg/logx"
)

type Config struct {
	// SessionPath is the SQLite file for the WhatsApp device session.
	SessionPath string
	// DeviceName shows up in the phone's linked-devices list.
	DeviceName string
}

type Adapter struct {
	log logx.Logger
	cli *whatsmeow.Client

	mu        sync.Mutex
	connected bool
}

func New(ctx context.Context, cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.SessionPath) == "" {
		return nil, errors.New("whatsapp session path is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if name := strings.TrimSpace(cfg.DeviceName); name != "" {
		store.DeviceProps.Os = proto.String(name)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)", cfg.SessionPath)
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	a := &Adapter{log: log, cli: whatsmeow.NewClient(device, waLog.Noop)}
	a.cli.AddEventHandler(a.handleEvent)
	return a, nil
}

// Connect brings the client online. On a fresh session it logs the QR
// pairing codes; the process keeps running and becomes usable once the
// phone completes the link.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.cli.Store.ID == nil {
		qrChan, err := a.cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		if err := a.cli.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		go func() {
			for evt := range qrChan {
				switch evt.Event {
				case "code":
					a.log.Info("scan QR code to link device", logx.String("code", evt.Code))
				case "success":
					a.log.Info("device linked")
				default:
					a.log.Warn("qr pairing event", logx.String("event", evt.Event))
				}
			}
		}()
		return nil
	}
	if err := a.cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (a *Adapter) Close() {
	a.cli.Disconnect()
}

// SendText delivers a message to a group chat. Mentions are JIDs embedded
// as @tags in the text; WhatsApp requires them duplicated in ContextInfo.
func (a *Adapter) SendText(ctx context.Context, groupJID, text string, mentions []string) error {
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return fmt.Errorf("bad group jid %q: %w", groupJID, err)
	}

	var msg waE2E.Message
	if len(mentions) == 0 {
		msg.Conversation = proto.String(text)
	} else {
		msg.ExtendedTextMessage = &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				MentionedJID: mentions,
			},
		}
	}

	if _, err := a.cli.SendMessage(ctx, jid, &msg); err != nil {
		return fmt.Errorf("send to %s: %w", groupJID, err)
	}
	return nil
}

// SendTyping flashes the composing indicator. Best-effort by contract.
func (a *Adapter) SendTyping(ctx context.Context, groupJID string) error {
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return err
	}
	return a.cli.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

func (a *Adapter) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		a.mu.Lock()
		a.connected = true
		a.mu.Unlock()
		a.log.Info("whatsapp connected")
	case *events.Disconnected:
		a.mu.Lock()
		a.connected = false
		a.mu.Unlock()
		a.log.Warn("whatsapp disconnected; client will auto-reconnect")
	case *events.LoggedOut:
		a.log.Error("device logged out; delete the session file and re-link", logx.Int("reason", int(e.Reason)))
	}
}

// Connected reports whether the client currently has a live socket.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}
