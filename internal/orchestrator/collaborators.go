package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

// Classifier extracts intent, urgency and an optional order id from a message.
type Classifier interface {
	Classify(ctx context.Context, message string, history []conversation.Message) (conversation.Classification, error)
}

// OrderLookup resolves order records. LookupOrder returns (nil, nil) when the
// order does not exist or is not visible to identity.
type OrderLookup interface {
	LookupOrder(ctx context.Context, orderID, identity string) (*conversation.OrderDetails, error)
	ListOrders(ctx context.Context, identity string) ([]conversation.OrderDetails, error)
}

// PolicyEvaluator decides whether an action is allowed for an order.
type PolicyEvaluator interface {
	EvaluatePolicy(ctx context.Context, intent string, order conversation.OrderDetails) (conversation.PolicyResult, error)
}

// ResolutionGenerator produces the user-facing outcome for a request. order
// and policy may be nil for intents that do not need them.
type ResolutionGenerator interface {
	GenerateResolution(ctx context.Context, order *conversation.OrderDetails, intent string, policy *conversation.PolicyResult) (conversation.Resolution, error)
}

// RecordAdvancer moves the external record (CRM deal) after an executed action.
type RecordAdvancer interface {
	AdvanceExternalRecord(ctx context.Context, orderID, action string) error
}

// InformationalAnswerer answers policy questions and small talk.
type InformationalAnswerer interface {
	AnswerInformational(ctx context.Context, query string, history []conversation.Message) (string, error)
}

// HandoffEvent is emitted once when a conversation is escalated.
type HandoffEvent struct {
	EventID        string    `json:"event_id"`
	ConversationID string    `json:"conversation_id"`
	Reason         string    `json:"reason"`
	LastError      string    `json:"last_error,omitempty"`
	Intent         string    `json:"intent,omitempty"`
	OrderID        string    `json:"order_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// HandoffPublisher forwards escalations to the human-agent queue.
type HandoffPublisher interface {
	PublishHandoff(ctx context.Context, ev HandoffEvent) error
}

// Collaborators bundles the services consumed by the engine.
type Collaborators struct {
	Classifier    Classifier
	Orders        OrderLookup
	Policy        PolicyEvaluator
	Resolution    ResolutionGenerator
	Records       RecordAdvancer
	Informational InformationalAnswerer
	Handoff       HandoffPublisher
}

type noopAdvancer struct{}

func (noopAdvancer) AdvanceExternalRecord(context.Context, string, string) error { return nil }

type noopPublisher struct{}

func (noopPublisher) PublishHandoff(context.Context, HandoffEvent) error { return nil }

// Advancers fans an executed action out to every advancer in order. All are
// attempted; their errors are joined.
type Advancers []RecordAdvancer

func (a Advancers) AdvanceExternalRecord(ctx context.Context, orderID, action string) error {
	var errs []error
	for _, adv := range a {
		if adv == nil {
			continue
		}
		if err := adv.AdvanceExternalRecord(ctx, orderID, action); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
