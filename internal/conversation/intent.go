package conversation

// Intents produced by the classifier.
const (
	IntentRefund          = "refund"
	IntentReturn          = "return"
	IntentExchange        = "exchange"
	IntentCancel          = "cancel"
	IntentOrderTracking   = "order_tracking"
	IntentComplaint       = "complaint"
	IntentTechnicalIssue  = "technical_issue"
	IntentGeneralQuestion = "general_question"
	IntentPolicyInfo      = "policy_info"
	IntentGreeting        = "greeting"
	IntentUnknown         = "unknown"
)

// Urgency levels.
const (
	UrgencyNormal = "normal"
	UrgencyHigh   = "high"
)

var knownIntents = map[string]bool{
	IntentRefund:          true,
	IntentReturn:          true,
	IntentExchange:        true,
	IntentCancel:          true,
	IntentOrderTracking:   true,
	IntentComplaint:       true,
	IntentTechnicalIssue:  true,
	IntentGeneralQuestion: true,
	IntentPolicyInfo:      true,
	IntentGreeting:        true,
}

// KnownIntent reports whether the pipeline has a route for intent.
func KnownIntent(intent string) bool {
	return knownIntents[intent]
}

// IsDestructive reports whether intent changes an order and needs confirmation.
func IsDestructive(intent string) bool {
	switch intent {
	case IntentRefund, IntentReturn, IntentExchange, IntentCancel:
		return true
	}
	return false
}

// NeedsOrder reports whether intent cannot proceed without an order record.
func NeedsOrder(intent string) bool {
	return IsDestructive(intent) || intent == IntentOrderTracking
}

// IsInformational reports whether intent is answered without the pipeline.
func IsInformational(intent string) bool {
	return intent == IntentPolicyInfo || intent == IntentGreeting
}

// Classification is the classifier's reading of one message.
type Classification struct {
	Intent     string  `json:"intent"`
	Urgency    string  `json:"urgency"`
	OrderID    string  `json:"order_id,omitempty"`
	Confidence float64 `json:"confidence"`
	UserIssue  string  `json:"user_issue,omitempty"`
}

// Resolution is the outcome produced for a resolved request.
type Resolution struct {
	Action   string `json:"action"`
	Message  string `json:"message"`
	Artifact string `json:"artifact,omitempty"`
}
