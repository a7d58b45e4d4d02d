// Package orchestrator runs the conversation engine: the guarded pipeline,
// the confirmation gate, disambiguation, escalation and the turn router.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
	"github.com/mohammad-safakhou/orderdesk/internal/store"
)

// Settings tunes the engine.
type Settings struct {
	MaxStepCalls        int
	EscalationThreshold int
	HistoryMaxTurns     int
	CollaboratorTimeout time.Duration
	EnumerateAllOrders  bool
}

func (s Settings) normalize() Settings {
	if s.MaxStepCalls <= 0 {
		s.MaxStepCalls = DefaultMaxStepCalls
	}
	if s.EscalationThreshold <= 0 {
		s.EscalationThreshold = DefaultEscalationThreshold
	}
	if s.HistoryMaxTurns <= 0 {
		s.HistoryMaxTurns = conversation.DefaultHistoryTurns
	}
	if s.CollaboratorTimeout <= 0 {
		s.CollaboratorTimeout = 10 * time.Second
	}
	return s
}

// Engine is the turn router together with everything it drives.
type Engine struct {
	settings Settings
	store    store.Store
	collab   Collaborators
	locker   Locker
	metrics  *Metrics
	logger   *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSettings overrides the default settings.
func WithSettings(s Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithLocker replaces the in-process lanes.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithMetrics reports on m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine. Classifier, Orders, Policy, Resolution and
// Informational are required; Records and Handoff default to no-ops.
func New(st store.Store, collab Collaborators, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	switch {
	case collab.Classifier == nil:
		return nil, errors.New("orchestrator: classifier is required")
	case collab.Orders == nil:
		return nil, errors.New("orchestrator: order lookup is required")
	case collab.Policy == nil:
		return nil, errors.New("orchestrator: policy evaluator is required")
	case collab.Resolution == nil:
		return nil, errors.New("orchestrator: resolution generator is required")
	case collab.Informational == nil:
		return nil, errors.New("orchestrator: informational answerer is required")
	}
	if collab.Records == nil {
		collab.Records = noopAdvancer{}
	}
	if collab.Handoff == nil {
		collab.Handoff = noopPublisher{}
	}
	e := &Engine{
		store:  st,
		collab: collab,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.settings = e.settings.normalize()
	if e.locker == nil {
		e.locker = NewLocalLanes()
	}
	if e.logger == nil {
		e.logger = log.New(log.Writer(), "[ROUTER] ", log.LstdFlags)
	}
	return e, nil
}

// Store exposes the underlying state store.
func (e *Engine) Store() store.Store { return e.store }

// Settings returns the effective settings.
func (e *Engine) Settings() Settings { return e.settings }

func (e *Engine) guard(name string, step Step) GuardedStep {
	return Guard(name, e.settings.MaxStepCalls, step, WithGuardMetrics(e.metrics), WithGuardLogger(e.logger))
}

// invoke runs fn under the collaborator deadline and records its latency.
// fn runs on its own goroutine so a collaborator that ignores ctx cannot
// hold the turn past the deadline.
func invoke[T any](ctx context.Context, e *Engine, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, e.settings.CollaboratorTimeout)
	defer cancel()
	type result struct {
		val T
		err error
	}
	start := time.Now()
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%s panicked: %v", name, r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()
	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = fmt.Errorf("%s: %w", name, ctx.Err())
	}
	if e.metrics != nil {
		outcome := outcomeOK
		if res.err != nil {
			outcome = outcomeError
		}
		e.metrics.Collaborators.WithLabelValues(name, outcome).Observe(time.Since(start).Seconds())
	}
	return res.val, res.err
}

func (e *Engine) classify(ctx context.Context, message string, history []conversation.Message) (conversation.Classification, error) {
	return invoke(ctx, e, "classifier", func(ctx context.Context) (conversation.Classification, error) {
		return e.collab.Classifier.Classify(ctx, message, history)
	})
}

func (e *Engine) lookupOrder(ctx context.Context, orderID, identity string) (*conversation.OrderDetails, error) {
	return invoke(ctx, e, "orders", func(ctx context.Context) (*conversation.OrderDetails, error) {
		return e.collab.Orders.LookupOrder(ctx, orderID, identity)
	})
}

func (e *Engine) listOrders(ctx context.Context, identity string) ([]conversation.OrderDetails, error) {
	return invoke(ctx, e, "orders", func(ctx context.Context) ([]conversation.OrderDetails, error) {
		return e.collab.Orders.ListOrders(ctx, identity)
	})
}

func (e *Engine) evaluatePolicy(ctx context.Context, intent string, order conversation.OrderDetails) (conversation.PolicyResult, error) {
	return invoke(ctx, e, "policy", func(ctx context.Context) (conversation.PolicyResult, error) {
		return e.collab.Policy.EvaluatePolicy(ctx, intent, order)
	})
}

func (e *Engine) generateResolution(ctx context.Context, order *conversation.OrderDetails, intent string, policy *conversation.PolicyResult) (conversation.Resolution, error) {
	return invoke(ctx, e, "resolution", func(ctx context.Context) (conversation.Resolution, error) {
		return e.collab.Resolution.GenerateResolution(ctx, order, intent, policy)
	})
}

func (e *Engine) answerInformational(ctx context.Context, query string, history []conversation.Message) (string, error) {
	return invoke(ctx, e, "informational", func(ctx context.Context) (string, error) {
		return e.collab.Informational.AnswerInformational(ctx, query, history)
	})
}

// advanceRecord is best effort: failures are logged and never surface.
func (e *Engine) advanceRecord(ctx context.Context, orderID, action string) {
	_, err := invoke(ctx, e, "crm", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.collab.Records.AdvanceExternalRecord(ctx, orderID, action)
	})
	if err != nil {
		e.logger.Printf("crm update for order %s (%s) failed: %v", orderID, action, err)
	}
}

func (e *Engine) publishHandoff(ctx context.Context, ev HandoffEvent) {
	_, err := invoke(ctx, e, "handoff", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.collab.Handoff.PublishHandoff(ctx, ev)
	})
	if err != nil {
		e.logger.Printf("handoff publish for %s failed: %v", ev.ConversationID, err)
	}
}
