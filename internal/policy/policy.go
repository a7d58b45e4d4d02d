// Package policy evaluates whether a customer request is allowed for an order.
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/orderdesk/config"
	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

// Policy types reported in results.
const (
	TypeCancellation = "cancellation"
	TypeReturn       = "return"
	TypeRefund       = "refund"
	TypeExchange     = "exchange"
	TypeNone         = "none"
)

const dateLayout = "2006-01-02"

// Evaluator applies status and delivery-window rules.
type Evaluator struct {
	cfg config.PolicyConfig
	now func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator builds an evaluator from cfg.
func NewEvaluator(cfg config.PolicyConfig, opts ...Option) *Evaluator {
	e := &Evaluator{cfg: cfg.Normalize(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluatePolicy implements the orchestrator contract. A denial is a result,
// not an error.
func (e *Evaluator) EvaluatePolicy(ctx context.Context, intent string, order conversation.OrderDetails) (conversation.PolicyResult, error) {
	if err := ctx.Err(); err != nil {
		return conversation.PolicyResult{}, err
	}
	status := strings.ToLower(strings.TrimSpace(order.Status))
	switch intent {
	case conversation.IntentCancel:
		return e.cancellation(status), nil
	case conversation.IntentReturn:
		return e.window(TypeReturn, e.cfg.ReturnWindowDays, status, order), nil
	case conversation.IntentRefund:
		return e.window(TypeRefund, e.cfg.RefundWindowDays, status, order), nil
	case conversation.IntentExchange:
		return e.window(TypeExchange, e.cfg.ExchangeWindowDays, status, order), nil
	}
	return conversation.PolicyResult{Allowed: true, Reason: "no policy applies", PolicyType: TypeNone}, nil
}

func (e *Evaluator) cancellation(status string) conversation.PolicyResult {
	for _, s := range e.cfg.CancellableStatuses {
		if s == status {
			return conversation.PolicyResult{Allowed: true, Reason: "order has not shipped yet", PolicyType: TypeCancellation}
		}
	}
	reason := fmt.Sprintf("order is already %s", status)
	if status == "" {
		reason = "order status is unknown"
	}
	return conversation.PolicyResult{Allowed: false, Reason: reason, PolicyType: TypeCancellation}
}

func (e *Evaluator) window(kind string, days int, status string, order conversation.OrderDetails) conversation.PolicyResult {
	if status == "cancelled" {
		return conversation.PolicyResult{Allowed: false, Reason: "order was cancelled", PolicyType: kind}
	}
	if order.DeliveredDate == nil || status != "delivered" {
		return conversation.PolicyResult{Allowed: false, Reason: "order has not been delivered yet", PolicyType: kind}
	}
	delivered := truncateDay(*order.DeliveredDate)
	deadline := delivered.AddDate(0, 0, days)
	today := truncateDay(e.now())
	if today.After(deadline) {
		return conversation.PolicyResult{
			Allowed:    false,
			Reason:     fmt.Sprintf("the %d-day %s window expired on %s (delivered %s)", days, kind, deadline.Format(dateLayout), delivered.Format(dateLayout)),
			PolicyType: kind,
		}
	}
	return conversation.PolicyResult{
		Allowed:    true,
		Reason:     fmt.Sprintf("within the %d-day %s window (delivered %s, open until %s)", days, kind, delivered.Format(dateLayout), deadline.Format(dateLayout)),
		PolicyType: kind,
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
