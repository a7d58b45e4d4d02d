package handoff

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mohammad-safakhou/orderdesk/internal/orchestrator"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()
	c, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishAndClaimTickets(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	client := startRedis(t)
	ctx := context.Background()

	desk, err := NewDesk(ctx, client, "", "desk", "agent-1")
	if err != nil {
		t.Fatalf("NewDesk: %v", err)
	}
	pub, err := NewPublisher(client, "", 1000, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	ev := orchestrator.HandoffEvent{
		EventID:        "ev-1",
		ConversationID: "c1",
		Reason:         "invocation_budget",
		Intent:         "order_tracking",
		OrderID:        "7847",
		OccurredAt:     time.Now().UTC(),
	}
	if err := pub.PublishHandoff(ctx, ev); err != nil {
		t.Fatalf("PublishHandoff: %v", err)
	}
	bad := ev
	bad.Reason = ""
	if err := pub.PublishHandoff(ctx, bad); err == nil {
		t.Fatal("events without a known reason must be rejected")
	}

	tickets, err := desk.Next(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(tickets) != 1 || tickets[0].Event.ConversationID != "c1" || tickets[0].Event.OrderID != "7847" {
		t.Fatalf("unexpected tickets %+v", tickets)
	}

	other, err := NewDesk(ctx, client, "", "desk", "agent-2")
	if err != nil {
		t.Fatalf("NewDesk: %v", err)
	}
	reclaimed, err := other.Reclaim(ctx, 0, 10)
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].Event.EventID != "ev-1" {
		t.Fatalf("expected the unacknowledged ticket, got %+v", reclaimed)
	}
	if err := other.Done(ctx, reclaimed...); err != nil {
		t.Fatalf("Done: %v", err)
	}
	backlog, err := other.Backlog(ctx)
	if err != nil {
		t.Fatalf("Backlog: %v", err)
	}
	if backlog.Pending != 0 {
		t.Fatalf("expected empty backlog, got %+v", backlog)
	}
}
