package streams

import (
	"context"
	"time"
)

// HandoffVersion is the payload version PublishHandoff writes.
const HandoffVersion = "v1"

// HandoffRequested is the payload of EventHandoffRequested.
type HandoffRequested struct {
	EventID        string    `json:"event_id"`
	ConversationID string    `json:"conversation_id"`
	Reason         string    `json:"reason"`
	LastError      string    `json:"last_error,omitempty"`
	Intent         string    `json:"intent,omitempty"`
	OrderID        string    `json:"order_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// HandoffEntry is a decoded handoff request together with its stream entry id.
type HandoffEntry struct {
	ID    string
	Event HandoffRequested
}

// PublishHandoff validates ev against the handoff schema and appends it.
func (p *Publisher) PublishHandoff(ctx context.Context, stream string, ev HandoffRequested, opts ...PublishOption) (string, error) {
	return p.PublishEvent(ctx, stream, ev.EventID, EventHandoffRequested, HandoffVersion, ev, opts...)
}

// ReadHandoffs reads new entries for this consumer. Entries that are not
// handoff requests are acknowledged and skipped.
func (c *Consumer) ReadHandoffs(ctx context.Context, stream string, opts ...ConsumerOption) ([]HandoffEntry, error) {
	msgs, err := c.Read(ctx, stream, opts...)
	if err != nil {
		return nil, err
	}
	return c.handoffs(ctx, stream, msgs), nil
}

// ClaimHandoffs takes over handoff requests another consumer left
// unacknowledged for at least minIdle.
func (c *Consumer) ClaimHandoffs(ctx context.Context, stream string, minIdle time.Duration, count int64) ([]HandoffEntry, error) {
	msgs, _, err := c.AutoClaim(ctx, stream, minIdle, "0-0", count)
	if err != nil {
		return nil, err
	}
	return c.handoffs(ctx, stream, msgs), nil
}

func (c *Consumer) handoffs(ctx context.Context, stream string, msgs []Message) []HandoffEntry {
	out := make([]HandoffEntry, 0, len(msgs))
	for _, m := range msgs {
		var ev HandoffRequested
		if m.Envelope.EventType != EventHandoffRequested || m.Envelope.Decode(&ev) != nil {
			_ = c.client.XAck(ctx, stream, c.group, m.ID).Err()
			continue
		}
		out = append(out, HandoffEntry{ID: m.ID, Event: ev})
	}
	return out
}
