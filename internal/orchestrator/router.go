package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	replyWithHuman        = "Your conversation has been handed over to a human agent, who will get back to you shortly. Thank you for your patience."
	replyInformationalErr = "I'm sorry, I couldn't look that up right now. Please try again in a moment."
	replyNothingPending   = "There is no pending action waiting for your confirmation. How else can I help you?"
)

var (
	// ErrConversationNotFound is returned by Confirm for an unknown conversation.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrNothingPending is returned by Confirm when no action awaits approval.
	ErrNothingPending = errors.New("nothing is awaiting confirmation")
)

// TurnRequest is one inbound user message.
type TurnRequest struct {
	ConversationID string
	Message        string
	// Identity is the caller's email when known.
	Identity string
	// Confirmation is an optional typed answer to a pending confirmation
	// ("confirm" or "decline"). It takes precedence over the message text.
	Confirmation string

	requirePending bool
}

// Response is the envelope returned for every turn.
type Response struct {
	ConversationID       string                     `json:"conversation_id"`
	Reply                string                     `json:"reply"`
	Status               conversation.Status        `json:"status"`
	Intent               string                     `json:"intent,omitempty"`
	Urgency              string                     `json:"urgency,omitempty"`
	OrderID              string                     `json:"order_id,omitempty"`
	OrderDetails         *conversation.OrderDetails `json:"order_details,omitempty"`
	AgentsCalled         []string                   `json:"agents_called"`
	Phase                conversation.Phase         `json:"phase"`
	AwaitingOrderID      bool                       `json:"awaiting_order_id"`
	AwaitingConfirmation bool                       `json:"awaiting_confirmation"`
	PendingAction        string                     `json:"pending_action,omitempty"`
	Buttons              []Button                   `json:"buttons,omitempty"`
}

func newResponse(s *conversation.State) Response {
	r := Response{
		ConversationID:       s.ConversationID,
		Reply:                s.Reply,
		Status:               s.Status,
		Intent:               s.Intent,
		Urgency:              s.Urgency,
		OrderID:              s.Entities.OrderID,
		OrderDetails:         s.Entities.OrderDetails,
		AgentsCalled:         append([]string{}, s.AgentsCalled...),
		Phase:                s.Phase,
		AwaitingOrderID:      s.AwaitingOrderID(),
		AwaitingConfirmation: s.AwaitingConfirmation(),
		PendingAction:        s.PendingAction(),
	}
	if r.AwaitingConfirmation {
		r.Buttons = ConfirmationButtons()
	}
	return r
}

// Handle processes one turn. It never returns an error: failures become a
// handoff response and are logged in full.
func (e *Engine) Handle(ctx context.Context, req TurnRequest) Response {
	resp, _ := e.handle(ctx, req)
	return resp
}

// Confirm answers a pending confirmation with a typed decision. The turn is
// rejected without touching the state when the conversation is unknown or
// nothing awaits approval. The check runs inside the conversation lane.
func (e *Engine) Confirm(ctx context.Context, id, identity string, d Decision) (Response, error) {
	return e.handle(ctx, TurnRequest{
		ConversationID: id,
		Message:        string(d),
		Identity:       identity,
		Confirmation:   string(d),
		requirePending: true,
	})
}

func (e *Engine) handle(ctx context.Context, req TurnRequest) (resp Response, rejected error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		req.ConversationID = uuid.NewString()
	}
	id := req.ConversationID

	ctx, span := tracer.Start(ctx, "conversation.turn",
		trace.WithAttributes(attribute.String("conversation.id", id)))
	defer span.End()

	release, err := e.locker.Acquire(ctx, id)
	if err != nil {
		e.logger.Printf("conversation %s: acquiring lane failed: %v", id, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{
			ConversationID: id,
			Reply:          ReplyInternalFail,
			Status:         conversation.StatusHandoff,
			Phase:          conversation.PhaseHumanHandoff,
			AgentsCalled:   []string{},
		}, nil
	}
	defer release()

	var s *conversation.State
	defer func() {
		if r := recover(); r != nil {
			resp = e.fail(ctx, id, req, s, fmt.Errorf("panic: %v", r))
			span.SetStatus(codes.Error, "panic")
		}
	}()

	resp, err = e.route(ctx, id, req, &s)
	if errors.Is(err, ErrConversationNotFound) || errors.Is(err, ErrNothingPending) {
		return Response{ConversationID: id}, err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.fail(ctx, id, req, s, err), nil
	}
	span.SetAttributes(
		attribute.String("conversation.status", string(resp.Status)),
		attribute.String("conversation.intent", resp.Intent),
	)
	return resp, nil
}

// route picks the branch for this turn and persists the outcome. The loaded
// state is published through sp so fail can persist a handoff on top of it.
func (e *Engine) route(ctx context.Context, id string, req TurnRequest, sp **conversation.State) (Response, error) {
	s, err := e.store.Load(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("load state: %w", err)
	}
	if req.requirePending {
		switch {
		case s == nil:
			return Response{}, ErrConversationNotFound
		case !s.AwaitingConfirmation():
			return Response{}, ErrNothingPending
		}
	}
	if s == nil {
		s = conversation.New(id)
	}
	*sp = s
	handedOff := s.HandedOff()
	s.BeginTurn(req.Message)

	if handedOff {
		s.Reply = replyWithHuman
		return e.finish(ctx, s, req, handedOff)
	}

	history, err := e.store.History(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("load history: %w", err)
	}
	t := &turn{message: req.Message, identity: req.Identity, history: history}
	t.cls, t.clsErr = e.classify(ctx, req.Message, history)
	if t.clsErr != nil {
		e.logger.Printf("conversation %s: classification failed: %v", id, t.clsErr)
	}

	decision, typed := ParseDecision(req.Confirmation)
	switch {
	case typed && s.AwaitingConfirmation():
		e.continueConfirmation(ctx, s, decision)
	case typed:
		s.Reply = replyNothingPending
		if !s.KeepWaiting() {
			s.Phase = conversation.PhaseCompleted
			s.Status = conversation.StatusCompleted
		}
	case t.clsErr == nil && answersDirectly(s, t.cls.Intent):
		e.informational(ctx, s, t)
	case s.AwaitingConfirmation():
		e.continueConfirmation(ctx, s, DecideFromText(req.Message))
	case s.AwaitingOrderID():
		if e.continueOrderID(s, t) {
			e.runPipeline(ctx, s, t)
		}
	default:
		if !e.disambiguate(ctx, s, t) {
			e.runPipeline(ctx, s, t)
		}
	}

	return e.finish(ctx, s, req, handedOff)
}

// answersDirectly reports whether the turn skips the pipeline. While a pause
// is held only a policy question does: small talk such as "yes thanks" is an
// answer to the pause.
func answersDirectly(s *conversation.State, intent string) bool {
	if s.Pause != nil {
		return intent == conversation.IntentPolicyInfo
	}
	return conversation.IsInformational(intent)
}

// informational answers without the pipeline. A pending pause survives so
// the user can still answer it on the next turn.
func (e *Engine) informational(ctx context.Context, s *conversation.State, t *turn) {
	answer, err := e.answerInformational(ctx, t.message, t.history)
	if err != nil {
		e.logger.Printf("conversation %s: informational answer failed: %v", s.ConversationID, err)
		answer = replyInformationalErr
	}
	s.Reply = answer
	if s.KeepWaiting() {
		return
	}
	s.Intent = t.cls.Intent
	s.Urgency = t.cls.Urgency
	s.Phase = conversation.PhaseCompleted
	s.Status = conversation.StatusCompleted
}

// finish applies the escalation policy, persists state and history and
// builds the response.
func (e *Engine) finish(ctx context.Context, s *conversation.State, req TurnRequest, handedOffAtLoad bool) (Response, error) {
	reason := escalationReason(s, e.settings.EscalationThreshold)
	escalated := Escalate(s, e.settings.EscalationThreshold)
	s.UpdatedAt = time.Now().UTC()

	if err := e.store.Save(ctx, s.ConversationID, s); err != nil {
		return Response{}, fmt.Errorf("save state: %w", err)
	}
	if err := e.appendTurn(ctx, s.ConversationID, req.Message, s.Reply); err != nil {
		return Response{}, err
	}

	if escalated && !handedOffAtLoad {
		e.recordHandoff(ctx, s, reason)
	}
	if e.metrics != nil {
		e.metrics.Turns.WithLabelValues(string(s.Status)).Inc()
	}
	return newResponse(s), nil
}

func (e *Engine) appendTurn(ctx context.Context, id, userMsg, reply string) error {
	if err := e.store.AppendHistory(ctx, id, conversation.RoleUser, userMsg, e.settings.HistoryMaxTurns); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if err := e.store.AppendHistory(ctx, id, conversation.RoleAssistant, reply, e.settings.HistoryMaxTurns); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (e *Engine) recordHandoff(ctx context.Context, s *conversation.State, reason string) {
	if e.metrics != nil {
		e.metrics.Handoffs.WithLabelValues(reason).Inc()
	}
	e.publishHandoff(ctx, HandoffEvent{
		EventID:        uuid.NewString(),
		ConversationID: s.ConversationID,
		Reason:         reason,
		LastError:      s.LastError,
		Intent:         s.Intent,
		OrderID:        s.Entities.OrderID,
		OccurredAt:     time.Now().UTC(),
	})
}

// fail is the outermost boundary. The caller only ever sees the generic
// apology; the detail goes to the log and to last_error. When the state could
// not be loaded nothing is written, so an unreadable record is never
// replaced by a fresh one.
func (e *Engine) fail(ctx context.Context, id string, req TurnRequest, s *conversation.State, cause error) Response {
	e.logger.Printf("conversation %s: turn failed: %v", id, cause)
	persist := s != nil
	if s == nil {
		s = conversation.New(id)
		s.BeginTurn(req.Message)
	}
	wasHandedOff := s.HandedOff()
	s.Handoff("orchestrator error: " + cause.Error())
	s.Reply = ReplyInternalFail
	s.UpdatedAt = time.Now().UTC()
	if persist {
		if err := e.store.Save(ctx, id, s); err != nil {
			e.logger.Printf("conversation %s: saving failed turn: %v", id, err)
		} else if err := e.appendTurn(ctx, id, req.Message, s.Reply); err != nil {
			e.logger.Printf("conversation %s: %v", id, err)
		}
	}
	if !wasHandedOff {
		e.recordHandoff(ctx, s, "internal_error")
	}
	if e.metrics != nil {
		e.metrics.Turns.WithLabelValues(string(s.Status)).Inc()
	}
	return newResponse(s)
}

// State returns the stored state for id, or nil when unknown.
func (e *Engine) State(ctx context.Context, id string) (*conversation.State, error) {
	return e.store.Load(ctx, id)
}

// History returns the stored turns for id.
func (e *Engine) History(ctx context.Context, id string) ([]conversation.Message, error) {
	return e.store.History(ctx, id)
}

// Conversations lists known conversation ids.
func (e *Engine) Conversations(ctx context.Context) ([]string, error) {
	return e.store.List(ctx)
}

// Clear removes the conversation. It waits for any in-flight turn.
func (e *Engine) Clear(ctx context.Context, id string) error {
	release, err := e.locker.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	return e.store.Clear(ctx, id)
}
