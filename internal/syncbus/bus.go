// Package syncbus keeps every running instance of the application consistent
// when an administrator changes a grant or a page's visibility elsewhere.
// Events are published only after the directory write is confirmed, and
// receivers re-fetch through the same path used at startup instead of
// trusting the payload. Consistency across instances is eventual; no
// instance ever blocks on another.
package syncbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel carrying sync events.
const Channel = "gatehouse.sync"

// Kind discriminates what changed.
type Kind string

const (
	// KindPermissions signals a user's grant was replaced.
	KindPermissions Kind = "permissions"
	// KindVisibility signals a page's visibility flag was flipped.
	KindVisibility Kind = "visibility"
)

// Event is the discriminated payload exchanged between instances. NewValue
// is a hint for logging; receivers always re-fetch rather than apply it.
type Event struct {
	ID        string `json:"id"`
	Origin    string `json:"origin"`
	Kind      Kind   `json:"kind"`
	SubjectID int64  `json:"subject_id"`
	NewValue  *bool  `json:"new_value,omitempty"`
}

// Bus publishes and receives sync events over Redis pub/sub.
type Bus struct {
	client *redis.Client
	logger *slog.Logger
	origin string

	mu       sync.Mutex
	handlers []func(context.Context, Event)
}

// New constructs a Bus with a unique origin identifier for this instance.
func New(client *redis.Client, logger *slog.Logger) *Bus {
	return &Bus{
		client: client,
		logger: logger,
		origin: uuid.NewString(),
	}
}

// PermissionsChanged publishes a confirmed grant replacement.
func (b *Bus) PermissionsChanged(ctx context.Context, userID int64) error {
	return b.publish(ctx, Event{Kind: KindPermissions, SubjectID: userID})
}

// VisibilityChanged publishes a confirmed visibility flip.
func (b *Bus) VisibilityChanged(ctx context.Context, pageID int64, visible bool) error {
	return b.publish(ctx, Event{Kind: KindVisibility, SubjectID: pageID, NewValue: &visible})
}

// OnReceive registers a handler invoked for every event published by
// another instance. Register handlers before calling Run.
func (b *Bus) OnReceive(fn func(context.Context, Event)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, fn)
	b.mu.Unlock()
}

// Run subscribes and dispatches events until the context is done. Events
// published by this instance are skipped; the local mutation path already
// refreshed its own caches.
func (b *Bus) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, Channel)
	defer func() { _ = pubsub.Close() }()

	// Fail fast when the subscription cannot be established.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch(ctx, msg.Payload)
		}
	}
}

func (b *Bus) publish(ctx context.Context, ev Event) error {
	ev.ID = uuid.NewString()
	ev.Origin = b.origin
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return err
	}
	if b.logger != nil {
		b.logger.Info("sync event published",
			slog.String("event_id", ev.ID),
			slog.String("kind", string(ev.Kind)),
			slog.Int64("subject_id", ev.SubjectID))
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		if b.logger != nil {
			b.logger.Warn("drop malformed sync event", slog.Any("error", err))
		}
		return
	}
	if ev.Origin == b.origin {
		return
	}
	if ev.Kind != KindPermissions && ev.Kind != KindVisibility {
		if b.logger != nil {
			b.logger.Warn("drop sync event of unknown kind", slog.String("kind", string(ev.Kind)))
		}
		return
	}

	b.mu.Lock()
	handlers := make([]func(context.Context, Event), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(ctx, ev)
	}
}
