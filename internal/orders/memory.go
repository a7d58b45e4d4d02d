package orders

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

// Request is one entry of the customer request log.
type Request struct {
	OrderID     int64
	UserEmail   string
	RequestType string
	CreatedAt   time.Time
}

// MemoryRepository keeps orders in a map. Used for local runs and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	orders   map[int64]conversation.OrderDetails
	requests []Request
}

// NewMemoryRepository creates a repository holding orders.
func NewMemoryRepository(orders ...conversation.OrderDetails) *MemoryRepository {
	r := &MemoryRepository{orders: make(map[int64]conversation.OrderDetails, len(orders))}
	for _, o := range orders {
		id, err := parseID(o.OrderID)
		if err != nil {
			continue
		}
		r.orders[id] = o
	}
	return r
}

// NewSeededRepository returns the development data set.
func NewSeededRepository() *MemoryRepository {
	return NewMemoryRepository(Seed()...)
}

func (r *MemoryRepository) Get(_ context.Context, orderID int64) (conversation.OrderDetails, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[orderID]
	if !ok {
		return conversation.OrderDetails{}, ErrNotFound
	}
	return o, nil
}

func (r *MemoryRepository) ListByEmail(_ context.Context, email string) ([]conversation.OrderDetails, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []conversation.OrderDetails
	for _, o := range r.orders {
		if strings.EqualFold(o.UserEmail, email) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OrderDate.Equal(out[j].OrderDate) {
			return out[i].OrderDate.After(out[j].OrderDate)
		}
		return out[i].OrderID > out[j].OrderID
	})
	return out, nil
}

func (r *MemoryRepository) RecordRequest(_ context.Context, orderID int64, email, requestType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	r.requests = append(r.requests, Request{OrderID: orderID, UserEmail: email, RequestType: requestType, CreatedAt: time.Now().UTC()})
	if st := statusAfter(requestType); st != "" {
		o.Status = st
		r.orders[orderID] = o
	}
	return nil
}

// Requests returns a copy of the request log.
func (r *MemoryRepository) Requests() []Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Request{}, r.requests...)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

// Seed mirrors migrations/0002_seed_orders.up.sql.
func Seed() []conversation.OrderDetails {
	return []conversation.OrderDetails{
		{OrderID: "7845", UserEmail: "alex@example.com", Product: "Nike Shoes", Description: "Running shoes, size 9", Quantity: 1, OrderDate: date(2026, 1, 28), Status: "Processing", Amount: 120},
		{OrderID: "7846", UserEmail: "sam@example.com", Product: "Adidas T-Shirt", Description: "Cotton tee, size 42", Quantity: 1, OrderDate: date(2026, 1, 25), DeliveredDate: datePtr(2026, 1, 30), Status: "Delivered", Amount: 35},
		{OrderID: "7847", UserEmail: "alex@example.com", Product: "Puma Jacket", Description: "Windbreaker, size 40", Quantity: 1, OrderDate: date(2026, 1, 20), Status: "Shipped", Amount: 90},
		{OrderID: "7848", UserEmail: "jordan@example.com", Product: "Red Tape Shoes", Description: "Leather shoes, size 10", Quantity: 1, OrderDate: date(2026, 1, 25), DeliveredDate: datePtr(2026, 2, 4), Status: "Delivered", Amount: 75},
		{OrderID: "7849", UserEmail: "jordan@example.com", Product: "Reebok Sneakers", Description: "Sneakers, size 8", Quantity: 1, OrderDate: date(2025, 12, 15), DeliveredDate: datePtr(2025, 12, 20), Status: "Delivered", Amount: 60},
	}
}
