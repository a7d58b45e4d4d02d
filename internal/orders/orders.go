// Package orders provides read access to order records plus the request log
// written when a destructive action is executed.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

// ErrNotFound is returned when an order does not exist or belongs to someone else.
var ErrNotFound = errors.New("order not found")

// Repository is the order data source.
type Repository interface {
	Get(ctx context.Context, orderID int64) (conversation.OrderDetails, error)
	ListByEmail(ctx context.Context, email string) ([]conversation.OrderDetails, error)
	// RecordRequest logs an executed customer request and moves the order
	// status where the action implies one.
	RecordRequest(ctx context.Context, orderID int64, email, requestType string) error
}

// Service adapts a Repository to the engine's lookup and record contracts.
type Service struct {
	repo Repository
}

// NewService wraps repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func parseID(orderID string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(orderID), "#"), 10, 64)
}

// LookupOrder returns nil when the order is unknown, malformed or, when an
// identity is given, owned by another customer.
func (s *Service) LookupOrder(ctx context.Context, orderID, identity string) (*conversation.OrderDetails, error) {
	id, err := parseID(orderID)
	if err != nil {
		return nil, nil
	}
	o, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if identity != "" && !strings.EqualFold(o.UserEmail, identity) {
		return nil, nil
	}
	return &o, nil
}

// ListOrders returns the caller's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, identity string) ([]conversation.OrderDetails, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, nil
	}
	return s.repo.ListByEmail(ctx, strings.ToLower(strings.TrimSpace(identity)))
}

// AdvanceExternalRecord stores the executed action in the request log.
func (s *Service) AdvanceExternalRecord(ctx context.Context, orderID, action string) error {
	id, err := parseID(orderID)
	if err != nil {
		return fmt.Errorf("order id %q: %w", orderID, err)
	}
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.repo.RecordRequest(ctx, id, o.UserEmail, action)
}

// statusAfter maps an executed request to the resulting order status.
// Empty means the status is left alone.
func statusAfter(requestType string) string {
	switch requestType {
	case conversation.IntentCancel:
		return "Cancelled"
	case conversation.IntentReturn:
		return "Return Requested"
	case conversation.IntentExchange:
		return "Exchange Requested"
	case conversation.IntentRefund:
		return "Refund Requested"
	}
	return ""
}
