// Package handoff forwards escalated conversations to the human-agent desk.
package handoff

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/orderdesk/internal/orchestrator"
	"github.com/mohammad-safakhou/orderdesk/internal/queue/streams"
	"github.com/redis/go-redis/v9"
)

// DefaultStream is used when no stream name is configured.
const DefaultStream = "orderdesk.handoff"

// Publisher writes handoff events to a redis stream.
type Publisher struct {
	pub    *streams.Publisher
	stream string
	maxLen int64
	logger *log.Logger
}

// NewPublisher creates a stream publisher. Payloads are validated against
// the registered handoff schema before they are written.
func NewPublisher(client *redis.Client, stream string, maxLen int64, logger *log.Logger) (*Publisher, error) {
	reg := streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[HANDOFF] ", log.LstdFlags)
	}
	return &Publisher{pub: streams.NewPublisher(client, reg), stream: stream, maxLen: maxLen, logger: logger}, nil
}

// PublishHandoff implements orchestrator.HandoffPublisher.
func (p *Publisher) PublishHandoff(ctx context.Context, ev orchestrator.HandoffEvent) error {
	id, err := p.pub.PublishHandoff(ctx, p.stream, streams.HandoffRequested(ev), streams.WithMaxLenApprox(p.maxLen))
	if err != nil {
		return fmt.Errorf("publish handoff for %s: %w", ev.ConversationID, err)
	}
	p.logger.Printf("conversation %s handed off (%s) as %s", ev.ConversationID, ev.Reason, id)
	return nil
}

// Stream returns the stream events are written to.
func (p *Publisher) Stream() string { return p.stream }

// Desk reads handoff events for a human-agent consumer group.
type Desk struct {
	client   *redis.Client
	consumer *streams.Consumer
	stream   string
	group    string
}

// NewDesk joins group on stream as consumer name, creating the group if needed.
func NewDesk(ctx context.Context, client *redis.Client, stream, group, name string) (*Desk, error) {
	if stream == "" {
		stream = DefaultStream
	}
	reg := streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	if err := streams.EnsureGroup(ctx, client, stream, group); err != nil {
		return nil, err
	}
	return &Desk{client: client, consumer: streams.NewConsumer(client, reg, group, name), stream: stream, group: group}, nil
}

// Ticket is a handoff event claimed by a desk agent.
type Ticket struct {
	EntryID string
	Event   orchestrator.HandoffEvent
}

// Next blocks up to wait for new tickets.
func (d *Desk) Next(ctx context.Context, count int64, wait time.Duration) ([]Ticket, error) {
	entries, err := d.consumer.ReadHandoffs(ctx, d.stream, streams.WithCount(count), streams.WithBlock(wait))
	if err != nil {
		return nil, err
	}
	return tickets(entries), nil
}

// Reclaim takes over tickets another agent left unacknowledged for minIdle.
func (d *Desk) Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]Ticket, error) {
	entries, err := d.consumer.ClaimHandoffs(ctx, d.stream, minIdle, count)
	if err != nil {
		return nil, err
	}
	return tickets(entries), nil
}

func tickets(entries []streams.HandoffEntry) []Ticket {
	out := make([]Ticket, 0, len(entries))
	for _, e := range entries {
		out = append(out, Ticket{EntryID: e.ID, Event: orchestrator.HandoffEvent(e.Event)})
	}
	return out
}

// Done acknowledges handled tickets.
func (d *Desk) Done(ctx context.Context, tickets ...Ticket) error {
	ids := make([]string, 0, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.EntryID)
	}
	return d.consumer.Ack(ctx, d.stream, ids...)
}

// Backlog reports the group's pending and lag counts.
func (d *Desk) Backlog(ctx context.Context) (streams.LagMetrics, error) {
	return streams.GroupLag(ctx, d.client, d.stream, d.group)
}
