package chat

import (
	"context"
	"log/slog"
	"time"

	"go-chat-relay/internal/gateway"
)

// Notifier fans an event out to every process (relay.Bridge in production).
type Notifier interface {
	Broadcast(ctx context.Context, ev gateway.Event) error
}

// Users answers whether a user id is known.
type Users interface {
	Exists(ctx context.Context, userID int) (bool, error)
}

// AttachmentRemover deletes uploaded files. Failures are logged only.
type AttachmentRemover interface {
	Delete(localPath string) error
}

// Deps are shared by the lifecycle and message services.
type Deps struct {
	Store        Store
	Users        Users
	Notifier     Notifier
	Attachments  AttachmentRemover
	StoreTimeout time.Duration
	Log          *slog.Logger
}

type core struct {
	store       Store
	users       Users
	notifier    Notifier
	attachments AttachmentRemover
	timeout     time.Duration
	log         *slog.Logger
}

func newCore(d Deps) core {
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = 5 * time.Second
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return core{
		store:       d.Store,
		users:       d.Users,
		notifier:    d.Notifier,
		attachments: d.Attachments,
		timeout:     d.StoreTimeout,
		log:         d.Log,
	}
}

func (c *core) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// notify runs after the store write has committed. A relay failure does not
// undo the mutation; clients recover by re-fetching.
func (c *core) notify(ctx context.Context, room, event string, payload any, exceptUser int) {
	if c.notifier == nil {
		return
	}
	ev, err := gateway.NewEvent(room, event, payload)
	if err != nil {
		c.log.Error("failed to encode event", "event", event, "room", room, "error", err)
		return
	}
	ev.ExceptUser = exceptUser
	if err := c.notifier.Broadcast(context.WithoutCancel(ctx), ev); err != nil {
		c.log.Warn("failed to notify room", "event", event, "room", room, "error", err)
	}
}

func (c *core) removeAttachments(messages ...*Message) {
	if c.attachments == nil {
		return
	}
	for _, m := range messages {
		for _, a := range m.Attachments {
			if a.LocalPath == "" {
				continue
			}
			if err := c.attachments.Delete(a.LocalPath); err != nil {
				c.log.Warn("failed to remove attachment", "message_id", m.ID, "path", a.LocalPath, "error", err)
			}
		}
	}
}
