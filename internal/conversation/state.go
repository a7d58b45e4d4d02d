// Package conversation holds the per-conversation state model shared by the
// orchestrator, the stores and the HTTP layer.
package conversation

import (
	"encoding/json"
	"time"
)

// Phase is a named state of the conversation state machine.
type Phase string

const (
	PhaseAwaitingIntent       Phase = "AWAITING_INTENT"
	PhaseDataFetch            Phase = "DATA_FETCH"
	PhasePolicyCheck          Phase = "POLICY_CHECK"
	PhaseResolution           Phase = "RESOLUTION"
	PhaseCompleted            Phase = "COMPLETED"
	PhaseHumanHandoff         Phase = "HUMAN_HANDOFF"
	PhaseAwaitingInput        Phase = "AWAITING_INPUT"
	PhaseAwaitingConfirmation Phase = "AWAITING_CONFIRMATION"
)

// Status is the externally visible outcome of a turn.
type Status string

const (
	StatusInProgress           Status = "in_progress"
	StatusCompleted            Status = "completed"
	StatusHandoff              Status = "handoff"
	StatusAwaitingInput        Status = "awaiting_input"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
)

// PauseKind discriminates the two ways a pipeline can be suspended.
type PauseKind string

const (
	PauseOrderID      PauseKind = "order_id"
	PauseConfirmation PauseKind = "confirmation"
)

// Pause records why the conversation is waiting on the user. Only one pause
// can be active at a time.
type Pause struct {
	Kind PauseKind `json:"kind"`
	// Intent that was in flight when the pause started; restored when the
	// user answers with a bare order id.
	Intent string `json:"intent,omitempty"`
	// Choices offered during disambiguation, if any.
	Choices []OrderSummary `json:"choices,omitempty"`
	// Action names the destructive action awaiting confirmation.
	Action string `json:"action,omitempty"`
}

// OrderDetails is the snapshot of an order record taken during a turn.
type OrderDetails struct {
	OrderID       string     `json:"order_id"`
	UserEmail     string     `json:"user_email,omitempty"`
	Product       string     `json:"product"`
	Description   string     `json:"description,omitempty"`
	Quantity      int        `json:"quantity,omitempty"`
	Status        string     `json:"status"`
	Amount        int        `json:"amount,omitempty"`
	OrderDate     time.Time  `json:"order_date"`
	DeliveredDate *time.Time `json:"delivered_date,omitempty"`
}

// Summary reduces the details to the fields shown during disambiguation.
func (o OrderDetails) Summary() OrderSummary {
	return OrderSummary{OrderID: o.OrderID, Product: o.Product, Status: o.Status}
}

// OrderSummary is one entry of a caller's order list.
type OrderSummary struct {
	OrderID string `json:"order_id"`
	Product string `json:"product"`
	Status  string `json:"status"`
}

// PolicyResult is the outcome of an eligibility check.
type PolicyResult struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason"`
	PolicyType string `json:"policy_type"`
}

// Entities is the open-ended bag of facts gathered across turns.
type Entities struct {
	OrderID            string        `json:"order_id,omitempty"`
	OrderDetails       *OrderDetails `json:"order_details,omitempty"`
	PolicyResult       *PolicyResult `json:"policy_result,omitempty"`
	PendingIntent      string        `json:"pending_intent,omitempty"`
	ConfirmationStatus string        `json:"confirmation_status,omitempty"`
	UserIssue          string        `json:"user_issue,omitempty"`
}

// Confirmation statuses stored alongside a pending destructive intent.
const (
	ConfirmationPending   = "pending"
	ConfirmationConfirmed = "confirmed"
	ConfirmationDeclined  = "declined"
)

// State is the single mutable record kept per conversation id.
type State struct {
	ConversationID       string         `json:"conversation_id"`
	Phase                Phase          `json:"phase"`
	UserMessage          string         `json:"user_message,omitempty"`
	Intent               string         `json:"intent,omitempty"`
	Urgency              string         `json:"urgency,omitempty"`
	Entities             Entities       `json:"entities"`
	StepInvocationCounts map[string]int `json:"step_invocation_counts"`
	AgentsCalled         []string       `json:"agents_called"`
	LastError            string         `json:"last_error,omitempty"`
	Reply                string         `json:"reply,omitempty"`
	Status               Status         `json:"status"`
	Pause                *Pause         `json:"pause,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// New returns a fresh state for an unseen conversation id.
func New(id string) *State {
	now := time.Now().UTC()
	return &State{
		ConversationID:       id,
		Phase:                PhaseAwaitingIntent,
		Status:               StatusInProgress,
		StepInvocationCounts: map[string]int{},
		AgentsCalled:         []string{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// AwaitingOrderID reports whether the conversation waits for an order id.
func (s *State) AwaitingOrderID() bool {
	return s.Pause != nil && s.Pause.Kind == PauseOrderID
}

// AwaitingConfirmation reports whether a destructive action waits for approval.
func (s *State) AwaitingConfirmation() bool {
	return s.Pause != nil && s.Pause.Kind == PauseConfirmation
}

// PendingAction names the action held by the confirmation pause.
func (s *State) PendingAction() string {
	if s.AwaitingConfirmation() {
		return s.Pause.Action
	}
	return ""
}

// HandedOff reports whether the conversation reached the absorbing phase.
func (s *State) HandedOff() bool {
	return s.Phase == PhaseHumanHandoff
}

// KeepWaiting puts the phase and status back to the ones of the active
// pause. It reports false when nothing is pending.
func (s *State) KeepWaiting() bool {
	if s.Pause == nil {
		return false
	}
	if s.Pause.Kind == PauseConfirmation {
		s.Phase = PhaseAwaitingConfirmation
		s.Status = StatusAwaitingConfirmation
	} else {
		s.Phase = PhaseAwaitingInput
		s.Status = StatusAwaitingInput
	}
	return true
}

// Handoff moves the conversation into the absorbing handoff phase.
func (s *State) Handoff(lastError string) {
	s.Phase = PhaseHumanHandoff
	s.Status = StatusHandoff
	s.Pause = nil
	if lastError != "" {
		s.LastError = lastError
	}
}

// TotalInvocations sums the per-step counters.
func (s *State) TotalInvocations() int {
	total := 0
	for _, n := range s.StepInvocationCounts {
		total += n
	}
	return total
}

// ClearPending drops everything tied to a destructive intent awaiting approval.
func (s *State) ClearPending() {
	if s.AwaitingConfirmation() {
		s.Pause = nil
	}
	s.Entities.PendingIntent = ""
	s.Entities.ConfirmationStatus = ""
}

// BeginTurn resets the per-turn fields before a new message is processed.
func (s *State) BeginTurn(message string) {
	s.UserMessage = message
	s.LastError = ""
	s.Reply = ""
	s.AgentsCalled = []string{}
	if s.StepInvocationCounts == nil {
		s.StepInvocationCounts = map[string]int{}
	}
	if !s.HandedOff() {
		s.Status = StatusInProgress
	}
}

// Clone returns a deep copy so stores never share memory with callers.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var out State
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}
