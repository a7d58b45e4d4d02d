package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
	"github.com/mohammad-safakhou/orderdesk/internal/store"
)

// keywordClassifier is a tiny deterministic classifier for engine tests.
type keywordClassifier struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
}

func (c *keywordClassifier) Classify(ctx context.Context, message string, _ []conversation.Message) (conversation.Classification, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return conversation.Classification{}, ctx.Err()
		}
	}
	if c.err != nil {
		return conversation.Classification{}, c.err
	}
	m := strings.ToLower(message)
	cls := conversation.Classification{Intent: conversation.IntentUnknown, Urgency: conversation.UrgencyNormal, Confidence: 0.5}
	switch {
	case strings.Contains(m, "policy"):
		cls.Intent = conversation.IntentPolicyInfo
	case strings.Contains(m, "hello") || strings.Contains(m, "hi there"):
		cls.Intent = conversation.IntentGreeting
	case strings.Contains(m, "cancel"):
		cls.Intent = conversation.IntentCancel
	case strings.Contains(m, "refund"):
		cls.Intent = conversation.IntentRefund
	case strings.Contains(m, "track"):
		cls.Intent = conversation.IntentOrderTracking
	case strings.Contains(m, "broken app"):
		cls.Intent = conversation.IntentTechnicalIssue
	}
	if cls.Intent != conversation.IntentUnknown {
		cls.Confidence = 0.85
	}
	cls.OrderID = extractOrderID(message)
	return cls, nil
}

func (c *keywordClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeOrders struct {
	mu      sync.Mutex
	orders  map[string]conversation.OrderDetails
	owners  map[string][]string
	lookups int
	lists   int
}

func newFakeOrders() *fakeOrders {
	delivered := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return &fakeOrders{
		orders: map[string]conversation.OrderDetails{
			"7845": {OrderID: "7845", Product: "Nike Shoes", Status: "Processing", UserEmail: "alex@example.com"},
			"7846": {OrderID: "7846", Product: "Adidas T-Shirt", Status: "Delivered", DeliveredDate: &delivered, UserEmail: "sam@example.com"},
			"7847": {OrderID: "7847", Product: "Puma Jacket", Status: "Shipped", UserEmail: "alex@example.com"},
			"7848": {OrderID: "7848", Product: "Red Tape Shoes", Status: "Processing", UserEmail: "alex@example.com"},
		},
		owners: map[string][]string{
			"alex@example.com":  {"7845", "7847", "7848"},
			"sam@example.com":   {"7846"},
			"robin@example.com": {"7845", "7847"},
		},
	}
}

func (f *fakeOrders) LookupOrder(_ context.Context, orderID, _ string) (*conversation.OrderDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	o, ok := f.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (f *fakeOrders) ListOrders(_ context.Context, identity string) ([]conversation.OrderDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	var out []conversation.OrderDetails
	for _, id := range f.owners[identity] {
		out = append(out, f.orders[id])
	}
	return out, nil
}

func (f *fakeOrders) Lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

type fakePolicy struct {
	err error
}

func (p *fakePolicy) EvaluatePolicy(_ context.Context, intent string, order conversation.OrderDetails) (conversation.PolicyResult, error) {
	if p.err != nil {
		return conversation.PolicyResult{}, p.err
	}
	if intent == conversation.IntentCancel && !strings.EqualFold(order.Status, "processing") {
		return conversation.PolicyResult{Allowed: false, Reason: "order already " + strings.ToLower(order.Status), PolicyType: "cancellation"}, nil
	}
	return conversation.PolicyResult{Allowed: true, Reason: "eligible", PolicyType: intent}, nil
}

type fakeResolution struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeResolution) GenerateResolution(_ context.Context, order *conversation.OrderDetails, intent string, policy *conversation.PolicyResult) (conversation.Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := ""
	if order != nil {
		id = order.OrderID
	}
	r.calls = append(r.calls, intent+":"+id)
	if policy != nil && !policy.Allowed {
		return conversation.Resolution{Action: "deny", Message: fmt.Sprintf("Sorry, order #%s cannot be changed: %s.", id, policy.Reason)}, nil
	}
	switch intent {
	case conversation.IntentCancel:
		return conversation.Resolution{Action: "cancel", Message: fmt.Sprintf("Your cancellation for order #%s has been processed.", id)}, nil
	case conversation.IntentOrderTracking:
		return conversation.Resolution{Action: "track", Message: fmt.Sprintf("Order #%s is %s.", id, order.Status)}, nil
	}
	return conversation.Resolution{Action: intent, Message: fmt.Sprintf("Your %s for order #%s has been processed.", intent, id)}, nil
}

func (r *fakeResolution) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.calls...)
}

type fakeInfo struct{}

func (fakeInfo) AnswerInformational(_ context.Context, query string, _ []conversation.Message) (string, error) {
	if strings.Contains(strings.ToLower(query), "policy") {
		return "Returns are accepted within 30 days of delivery.", nil
	}
	return "Hello! How can I help you with your order today?", nil
}

type recordingAdvancer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (a *recordingAdvancer) AdvanceExternalRecord(_ context.Context, orderID, action string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, orderID+":"+action)
	return a.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []HandoffEvent
}

func (p *recordingPublisher) PublishHandoff(_ context.Context, ev HandoffEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []HandoffEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]HandoffEvent{}, p.events...)
}

// failingStore wraps a store and fails Save on demand.
type failingStore struct {
	store.Store
	saveErr error
}

func (f *failingStore) Save(ctx context.Context, id string, s *conversation.State) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Store.Save(ctx, id, s)
}

type harness struct {
	engine     *Engine
	store      store.Store
	classifier *keywordClassifier
	// rules replaces classifier when set.
	rules      Classifier
	orders     *fakeOrders
	policy     *fakePolicy
	resolution *fakeResolution
	advancer   *recordingAdvancer
	publisher  *recordingPublisher
}

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	h := &harness{
		store:      store.NewMemoryStore(),
		classifier: &keywordClassifier{},
		orders:     newFakeOrders(),
		policy:     &fakePolicy{},
		resolution: &fakeResolution{},
		advancer:   &recordingAdvancer{},
		publisher:  &recordingPublisher{},
	}
	h.build(t, settings)
	return h
}

func (h *harness) build(t *testing.T, settings Settings) {
	t.Helper()
	var cls Classifier = h.classifier
	if h.rules != nil {
		cls = h.rules
	}
	e, err := New(h.store, Collaborators{
		Classifier:    cls,
		Orders:        h.orders,
		Policy:        h.policy,
		Resolution:    h.resolution,
		Records:       h.advancer,
		Informational: fakeInfo{},
		Handoff:       h.publisher,
	}, WithSettings(settings), WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.engine = e
}

func (h *harness) send(t *testing.T, id, msg string) Response {
	t.Helper()
	return h.engine.Handle(context.Background(), TurnRequest{ConversationID: id, Message: msg})
}

var errBoom = errors.New("boom")
