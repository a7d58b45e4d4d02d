package orchestrator

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

// Pipeline step names, also used as invocation counter keys.
const (
	StepTriage          = "triage"
	StepOrderResolution = "order_resolution"
	StepPolicyCheck     = "policy_check"
	StepResolution      = "resolution"
)

const (
	replyUnknownIntent = "I'm sorry, I wasn't able to understand your request. Let me connect you with a human agent who can help."
	replyAskOrderID    = "I can help with that. Could you please provide your Order ID?"
	replyOrderNotFound = "I couldn't find order #%s. Could you please double-check your Order ID and send it again?"
)

// turn carries the per-message inputs shared by the router and the steps.
type turn struct {
	message  string
	identity string
	history  []conversation.Message
	cls      conversation.Classification
	clsErr   error
}

type transition struct {
	name string
	from conversation.Phase
	to   conversation.Phase
	step Step
}

func (e *Engine) transitions(t *turn) []transition {
	return []transition{
		{StepTriage, conversation.PhaseAwaitingIntent, conversation.PhaseDataFetch, e.triageStep(t)},
		{StepOrderResolution, conversation.PhaseDataFetch, conversation.PhasePolicyCheck, e.orderResolutionStep(t)},
		{StepPolicyCheck, conversation.PhasePolicyCheck, conversation.PhaseResolution, e.policyCheckStep},
		{StepResolution, conversation.PhaseResolution, conversation.PhaseCompleted, e.resolutionStep},
	}
}

// runPipeline drives the fixed step sequence. It starts at AWAITING_INTENT
// unless a continuation already placed the state at DATA_FETCH. A step that
// leaves any phase other than its expected successor ends the run: pause
// phases stop quietly, anything else is a handoff.
func (e *Engine) runPipeline(ctx context.Context, s *conversation.State, t *turn) {
	if s.Phase != conversation.PhaseDataFetch {
		s.Phase = conversation.PhaseAwaitingIntent
	}
	started := false
	for _, tr := range e.transitions(t) {
		if !started {
			if tr.from != s.Phase {
				continue
			}
			started = true
		}
		e.guard(tr.name, tr.step)(ctx, s)
		switch s.Phase {
		case tr.to:
			continue
		case conversation.PhaseAwaitingInput, conversation.PhaseAwaitingConfirmation, conversation.PhaseHumanHandoff:
			return
		default:
			e.logger.Printf("conversation %s: %s left unexpected phase %s", s.ConversationID, tr.name, s.Phase)
			s.Handoff(fmt.Sprintf("%s left unexpected phase %s", tr.name, s.Phase))
			return
		}
	}
}

// applyClassification copies a fresh classification onto the state and drops
// order facts gathered for a previous request.
func applyClassification(s *conversation.State, cls conversation.Classification) {
	s.Intent = cls.Intent
	s.Urgency = cls.Urgency
	if s.Urgency == "" {
		s.Urgency = conversation.UrgencyNormal
	}
	s.Entities.UserIssue = cls.UserIssue
	s.Entities.OrderID = cls.OrderID
	s.Entities.OrderDetails = nil
	s.Entities.PolicyResult = nil
}

func (e *Engine) triageStep(t *turn) Step {
	return func(ctx context.Context, s *conversation.State) error {
		if t.clsErr != nil {
			return t.clsErr
		}
		applyClassification(s, t.cls)
		if !conversation.KnownIntent(s.Intent) {
			s.Reply = replyUnknownIntent
			s.Handoff("")
			return nil
		}
		s.Phase = conversation.PhaseDataFetch
		return nil
	}
}

func pauseForOrderID(s *conversation.State, reply string, choices []conversation.OrderSummary) {
	s.Pause = &conversation.Pause{Kind: conversation.PauseOrderID, Intent: s.Intent, Choices: choices}
	s.Phase = conversation.PhaseAwaitingInput
	s.Status = conversation.StatusAwaitingInput
	s.Reply = reply
}

func (e *Engine) orderResolutionStep(t *turn) Step {
	return func(ctx context.Context, s *conversation.State) error {
		if !conversation.NeedsOrder(s.Intent) {
			s.Phase = conversation.PhasePolicyCheck
			return nil
		}
		id := s.Entities.OrderID
		if id == "" {
			pauseForOrderID(s, replyAskOrderID, nil)
			return nil
		}
		details, err := e.lookupOrder(ctx, id, t.identity)
		if err != nil {
			return err
		}
		if details == nil {
			s.Entities.OrderID = ""
			pauseForOrderID(s, fmt.Sprintf(replyOrderNotFound, id), nil)
			return nil
		}
		s.Entities.OrderDetails = details
		s.Phase = conversation.PhasePolicyCheck
		return nil
	}
}

func (e *Engine) policyCheckStep(ctx context.Context, s *conversation.State) error {
	if !conversation.IsDestructive(s.Intent) {
		s.Entities.PolicyResult = &conversation.PolicyResult{Allowed: true, PolicyType: "none"}
		s.Phase = conversation.PhaseResolution
		return nil
	}
	if s.Entities.OrderDetails == nil {
		return fmt.Errorf("no order resolved for %s", s.Intent)
	}
	res, err := e.evaluatePolicy(ctx, s.Intent, *s.Entities.OrderDetails)
	if err != nil {
		return err
	}
	s.Entities.PolicyResult = &res
	s.Phase = conversation.PhaseResolution
	return nil
}

func (e *Engine) resolutionStep(ctx context.Context, s *conversation.State) error {
	if needsConfirmation(s) {
		openConfirmation(s)
		return nil
	}
	return e.resolve(ctx, s)
}

// resolve produces the final reply and, for an executed destructive action,
// advances the external record.
func (e *Engine) resolve(ctx context.Context, s *conversation.State) error {
	res, err := e.generateResolution(ctx, s.Entities.OrderDetails, s.Intent, s.Entities.PolicyResult)
	if err != nil {
		return err
	}
	s.Reply = res.Message
	if conversation.IsDestructive(s.Intent) && s.Entities.PolicyResult != nil && s.Entities.PolicyResult.Allowed && s.Entities.OrderID != "" {
		e.advanceRecord(ctx, s.Entities.OrderID, s.Intent)
	}
	s.Phase = conversation.PhaseCompleted
	s.Status = conversation.StatusCompleted
	return nil
}
