package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

// Decision is the user's answer to a confirmation prompt.
type Decision string

const (
	DecisionConfirm Decision = "confirm"
	DecisionDecline Decision = "decline"
)

// Button is a structured quick reply offered with a prompt.
type Button struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ConfirmationButtons are attached to every confirmation prompt. Their values
// round-trip through the typed confirmation signal.
func ConfirmationButtons() []Button {
	return []Button{
		{Label: "Yes, proceed", Value: string(DecisionConfirm)},
		{Label: "No, cancel", Value: string(DecisionDecline)},
	}
}

const replyDeclined = "No problem, I've cancelled that request and nothing was changed on order #%s. Is there anything else I can help you with?"

var (
	negationTokens = map[string]bool{
		"no": true, "nope": true, "nah": true, "not": true, "dont": true,
		"stop": true, "decline": true, "never": true, "wait": true,
	}
	affirmationTokens = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true, "yup": true, "sure": true,
		"ok": true, "okay": true, "confirm": true, "confirmed": true, "proceed": true,
		"absolutely": true, "definitely": true,
	}
	affirmationPhrases = []string{"go ahead", "do it"}
)

// ParseDecision reads a typed confirmation signal. ok is false when the
// value is empty or unrecognised.
func ParseDecision(v string) (Decision, bool) {
	switch Decision(strings.ToLower(strings.TrimSpace(v))) {
	case DecisionConfirm:
		return DecisionConfirm, true
	case DecisionDecline:
		return DecisionDecline, true
	}
	return "", false
}

// DecideFromText interprets a free-text reply. Negation wins over
// affirmation and anything unrecognised declines.
func DecideFromText(msg string) Decision {
	lower := strings.ToLower(msg)
	tokens := tokenize(lower)
	for _, tok := range tokens {
		if negationTokens[tok] {
			return DecisionDecline
		}
	}
	for _, tok := range tokens {
		if affirmationTokens[tok] {
			return DecisionConfirm
		}
	}
	for _, p := range affirmationPhrases {
		if strings.Contains(lower, p) {
			return DecisionConfirm
		}
	}
	return DecisionDecline
}

// tokenize splits on anything that is not a letter or digit. Apostrophes are
// dropped first so "don't" becomes "dont".
func tokenize(s string) []string {
	s = strings.NewReplacer("'", "", "’", "").Replace(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func needsConfirmation(s *conversation.State) bool {
	return conversation.IsDestructive(s.Intent) &&
		s.Entities.PolicyResult != nil && s.Entities.PolicyResult.Allowed &&
		s.Entities.ConfirmationStatus != conversation.ConfirmationConfirmed
}

func actionPhrase(intent string) string {
	switch intent {
	case conversation.IntentCancel:
		return "cancel"
	case conversation.IntentRefund:
		return "request a refund for"
	case conversation.IntentReturn:
		return "return"
	case conversation.IntentExchange:
		return "exchange"
	}
	return intent
}

// openConfirmation pauses a destructive request. The order snapshot and policy
// result stay in entities and are reused verbatim when the user confirms.
func openConfirmation(s *conversation.State) {
	s.Entities.PendingIntent = s.Intent
	s.Entities.ConfirmationStatus = conversation.ConfirmationPending
	s.Pause = &conversation.Pause{Kind: conversation.PauseConfirmation, Intent: s.Intent, Action: s.Intent}
	s.Phase = conversation.PhaseAwaitingConfirmation
	s.Status = conversation.StatusAwaitingConfirmation

	product := ""
	if s.Entities.OrderDetails != nil && s.Entities.OrderDetails.Product != "" {
		product = fmt.Sprintf(" (%s)", s.Entities.OrderDetails.Product)
	}
	s.Reply = fmt.Sprintf("Just to confirm, you want to %s order #%s%s. Are you sure you want to proceed? Please reply yes or no.",
		actionPhrase(s.Intent), s.Entities.OrderID, product)
}

// continueConfirmation resolves a pending destructive action. Confirming runs
// the guarded resolution step on the stored snapshot without a fresh lookup.
func (e *Engine) continueConfirmation(ctx context.Context, s *conversation.State, d Decision) {
	intent := s.PendingAction()
	if intent == "" {
		intent = s.Entities.PendingIntent
	}
	orderID := s.Entities.OrderID

	if d != DecisionConfirm {
		s.ClearPending()
		s.Reply = fmt.Sprintf(replyDeclined, orderID)
		s.Phase = conversation.PhaseCompleted
		s.Status = conversation.StatusCompleted
		return
	}

	s.Intent = intent
	s.Entities.ConfirmationStatus = conversation.ConfirmationConfirmed
	e.guard(StepResolution, e.resolve)(ctx, s)
	if s.HandedOff() {
		return
	}
	s.ClearPending()
}
