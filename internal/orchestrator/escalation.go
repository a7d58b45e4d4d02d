package orchestrator

import "github.com/mohammad-safakhou/orderdesk/internal/conversation"

// DefaultEscalationThreshold is the summed step count above which a
// conversation is handed to a human.
const DefaultEscalationThreshold = 5

// Replies used when a conversation leaves automated handling.
const (
	ReplyHandoff      = "I apologize, but I need to escalate this to a human agent for better assistance. Someone will get back to you shortly."
	ReplyInternalFail = "I apologize, but I encountered an error. Let me connect you with a human agent."
	replyFollowUp     = "A human agent will follow up on this conversation."
)

// ShouldEscalate is the conversation-level backstop evaluated once per turn.
func ShouldEscalate(s *conversation.State, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultEscalationThreshold
	}
	return s.Phase == conversation.PhaseHumanHandoff ||
		s.LastError != "" ||
		s.TotalInvocations() > threshold
}

// escalationReason labels why ShouldEscalate fired.
func escalationReason(s *conversation.State, threshold int) string {
	switch {
	case s.LastError != "":
		return "step_failure"
	case s.Phase == conversation.PhaseHumanHandoff:
		return "handoff"
	case s.TotalInvocations() > threshold:
		return "invocation_budget"
	}
	return ""
}

// Escalate applies ShouldEscalate and moves the state into handoff. It
// returns false when no escalation was needed.
//
// A pause prompt is replaced by the default handoff reply since the pause is
// dropped. A completed reply produced before the budget ran out is kept and a
// follow-up note is appended.
func Escalate(s *conversation.State, threshold int) bool {
	if !ShouldEscalate(s, threshold) {
		return false
	}
	wasPaused := s.Pause != nil
	alreadyHandedOff := s.HandedOff()
	s.Handoff("")
	switch {
	case s.Reply == "" || wasPaused:
		s.Reply = ReplyHandoff
	case !alreadyHandedOff:
		s.Reply = s.Reply + " " + replyFollowUp
	}
	return true
}
