package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxStepCalls bounds how often one step may run per conversation.
const DefaultMaxStepCalls = 2

// Step is one pipeline stage. It mutates the state in place.
type Step func(ctx context.Context, s *conversation.State) error

// GuardedStep is a step that never fails: errors are recorded on the state.
type GuardedStep func(ctx context.Context, s *conversation.State)

// StepError carries the step name alongside the underlying failure.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Step, e.Err.Error())
}

func (e *StepError) Unwrap() error { return e.Err }

type guardOptions struct {
	metrics *Metrics
	logger  *log.Logger
}

// GuardOption customises Guard.
type GuardOption func(*guardOptions)

// WithGuardMetrics reports step outcomes on m.
func WithGuardMetrics(m *Metrics) GuardOption {
	return func(o *guardOptions) { o.metrics = m }
}

// WithGuardLogger logs step failures on l.
func WithGuardLogger(l *log.Logger) GuardOption {
	return func(o *guardOptions) { o.logger = l }
}

// Guard wraps step with a per-conversation invocation counter. Once the
// counter for name reaches maxCalls the step is skipped and the conversation
// is handed off. Errors and panics raised by step are converted into a
// handoff as well, so the returned function is total.
func Guard(name string, maxCalls int, step Step, opts ...GuardOption) GuardedStep {
	if maxCalls <= 0 {
		maxCalls = DefaultMaxStepCalls
	}
	o := guardOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return func(ctx context.Context, s *conversation.State) {
		if s.StepInvocationCounts == nil {
			s.StepInvocationCounts = map[string]int{}
		}
		if s.StepInvocationCounts[name] >= maxCalls {
			s.Handoff(fmt.Sprintf("%s exceeded retry limit", name))
			o.metrics.step(name, outcomeLimited)
			return
		}
		s.StepInvocationCounts[name]++
		s.AgentsCalled = append(s.AgentsCalled, name)

		ctx, span := tracer.Start(ctx, "step."+name,
			trace.WithAttributes(
				attribute.String("conversation.id", s.ConversationID),
				attribute.Int("step.invocation", s.StepInvocationCounts[name]),
			))
		defer span.End()

		err, panicked := runRecovered(ctx, s, step)
		if err == nil {
			o.metrics.step(name, outcomeOK)
			return
		}
		stepErr := &StepError{Step: name, Err: err}
		span.RecordError(stepErr)
		span.SetStatus(codes.Error, stepErr.Error())
		if panicked {
			o.metrics.step(name, outcomePanic)
		} else {
			o.metrics.step(name, outcomeError)
		}
		if o.logger != nil {
			o.logger.Printf("conversation %s: %v", s.ConversationID, stepErr)
		}
		s.Handoff(stepErr.Error())
	}
}

// runRecovered calls step and turns a panic into an error.
func runRecovered(ctx context.Context, s *conversation.State, step Step) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			panicked = true
		}
	}()
	return step(ctx, s), false
}
