// Package triage holds the rule based intent classifier used when no model
// backed classifier is configured.
package triage

import (
	"context"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

const (
	ruleConfidence    = 0.85
	defaultConfidence = 0.5
)

var orderIDPattern = regexp.MustCompile(`\b\d{4,}\b`)

type rule struct {
	intent   string
	keywords []string
}

// Rules are evaluated in order; the first rule with a matching keyword wins.
// Destructive intents come first so "cancel and refund" reads as a cancel.
var rules = []rule{
	{conversation.IntentCancel, []string{"cancel", "cancellation", "stop my order", "don't ship"}},
	{conversation.IntentRefund, []string{"refund", "money back", "reimburse", "chargeback"}},
	{conversation.IntentReturn, []string{"return my", "return the", "return this", "return it", "send back", "send it back", "return an item"}},
	{conversation.IntentExchange, []string{"exchange", "replace", "replacement", "swap", "different size", "wrong size"}},
	{conversation.IntentOrderTracking, []string{"track", "where is my order", "where's my order", "order status", "status of my order", "shipping status", "when will", "not arrived", "hasn't arrived"}},
	{conversation.IntentTechnicalIssue, []string{"app", "website", "login", "log in", "password", "error", "crash", "bug", "checkout fails", "payment failed"}},
	{conversation.IntentComplaint, []string{"complain", "complaint", "terrible", "awful", "disappointed", "unacceptable", "rude", "worst", "damaged", "broken"}},
	{conversation.IntentPolicyInfo, []string{"policy", "policies", "how many days", "return window", "refund window", "warranty", "eligible", "shipping cost", "how long do i have"}},
	{conversation.IntentGreeting, greetingWords},
	{conversation.IntentGeneralQuestion, []string{"question", "how do i", "can i", "do you", "what is", "how to"}},
}

var greetingWords = []string{"hello", "hi", "hey", "good morning", "good afternoon", "good evening", "thanks", "thank you"}

var urgentWords = []string{"urgent", "urgently", "asap", "immediately", "right now", "now", "emergency"}

// Classifier is a deterministic keyword classifier.
type Classifier struct{}

// New creates a rule classifier.
func New() *Classifier { return &Classifier{} }

// Classify implements the orchestrator classifier contract. history is not
// consulted: continuations are handled by the router.
func (c *Classifier) Classify(ctx context.Context, message string, _ []conversation.Message) (conversation.Classification, error) {
	if err := ctx.Err(); err != nil {
		return conversation.Classification{}, err
	}
	lower := normalize(message)
	cls := conversation.Classification{
		Intent:     conversation.IntentUnknown,
		Urgency:    Urgency(lower),
		OrderID:    orderIDPattern.FindString(message),
		Confidence: defaultConfidence,
		UserIssue:  strings.TrimSpace(message),
	}
	for _, r := range rules {
		if matchAny(lower, r.keywords) {
			cls.Intent = r.intent
			cls.Confidence = ruleConfidence
			break
		}
	}
	return cls, nil
}

// Urgency returns high when the message asks for immediate action.
func Urgency(message string) string {
	if matchAny(normalize(message), urgentWords) {
		return conversation.UrgencyHigh
	}
	return conversation.UrgencyNormal
}

// IsGreeting reports whether message is small talk.
func IsGreeting(message string) bool {
	return matchAny(normalize(message), greetingWords)
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("’", "'", "\n", " ", "\t", " ").Replace(s)
	return " " + strings.Join(strings.Fields(s), " ") + " "
}

// matchAny reports whether any keyword appears in s on word boundaries.
// s must be normalized.
func matchAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		idx := 0
		for {
			i := strings.Index(s[idx:], kw)
			if i < 0 {
				break
			}
			start := idx + i
			end := start + len(kw)
			if boundary(s, start-1) && boundary(s, end) {
				return true
			}
			idx = start + 1
		}
	}
	return false
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
}
