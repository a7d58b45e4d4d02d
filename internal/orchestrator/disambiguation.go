package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

const replyStillNeedOrderID = "I still need your Order ID to continue. You can find it in your order confirmation email. Could you please share it?"

var orderIDPattern = regexp.MustCompile(`\b\d{4,}\b`)

// extractOrderID returns the first run of four or more digits in msg.
func extractOrderID(msg string) string {
	return orderIDPattern.FindString(msg)
}

var productStopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "pack": true, "set": true,
}

// productKeywords lowercases a product name into match tokens.
func productKeywords(product string) []string {
	var out []string
	for _, tok := range tokenize(strings.ToLower(product)) {
		if len(tok) < 3 || productStopWords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func keywordHit(keyword string, tokens map[string]bool) bool {
	return tokens[keyword] || tokens[keyword+"s"] || tokens[strings.TrimSuffix(keyword, "s")]
}

// matchOrders returns the orders whose product name shares a keyword with msg.
func matchOrders(orders []conversation.OrderDetails, msg string) []conversation.OrderDetails {
	tokens := map[string]bool{}
	for _, tok := range tokenize(strings.ToLower(msg)) {
		tokens[tok] = true
	}
	var out []conversation.OrderDetails
	for _, o := range orders {
		for _, kw := range productKeywords(o.Product) {
			if keywordHit(kw, tokens) {
				out = append(out, o)
				break
			}
		}
	}
	return out
}

// matchChoice picks the offered order a follow-up message refers to by
// product keyword. It returns "" unless exactly one choice matches.
func matchChoice(choices []conversation.OrderSummary, msg string) string {
	orders := make([]conversation.OrderDetails, 0, len(choices))
	for _, c := range choices {
		orders = append(orders, conversation.OrderDetails{OrderID: c.OrderID, Product: c.Product, Status: c.Status})
	}
	m := matchOrders(orders, msg)
	if len(m) != 1 {
		return ""
	}
	return m[0].OrderID
}

func enumerateReply(orders []conversation.OrderSummary) string {
	var b strings.Builder
	b.WriteString("I found more than one order that could match your request:\n")
	for i, o := range orders {
		fmt.Fprintf(&b, "%d. Order #%s - %s (%s)\n", i+1, o.OrderID, o.Product, o.Status)
	}
	b.WriteString("Which one do you mean? Please reply with the Order ID.")
	return b.String()
}

func annotate(msg, orderID string) string {
	if strings.Contains(msg, orderID) {
		return msg
	}
	return fmt.Sprintf("%s (order #%s)", msg, orderID)
}

// disambiguate resolves an order reference for an identified caller who did
// not name an order id. It returns true when the turn was answered with an
// enumerated choice and the pipeline must not run.
func (e *Engine) disambiguate(ctx context.Context, s *conversation.State, t *turn) bool {
	if t.clsErr != nil || !conversation.NeedsOrder(t.cls.Intent) || t.cls.OrderID != "" || t.identity == "" {
		return false
	}
	orders, err := e.listOrders(ctx, t.identity)
	if err != nil {
		e.logger.Printf("conversation %s: listing orders failed: %v", s.ConversationID, err)
		return false
	}
	if len(orders) == 0 {
		return false
	}
	matches := matchOrders(orders, t.message)
	switch {
	case len(matches) == 1:
		t.cls.OrderID = matches[0].OrderID
		t.message = annotate(t.message, matches[0].OrderID)
		s.UserMessage = t.message
		return false
	case len(matches) >= 2:
		e.offerChoices(s, t, matches)
		return true
	case len(orders) == 1:
		t.cls.OrderID = orders[0].OrderID
		return false
	case e.settings.EnumerateAllOrders:
		e.offerChoices(s, t, orders)
		return true
	}
	return false
}

func (e *Engine) offerChoices(s *conversation.State, t *turn, orders []conversation.OrderDetails) {
	applyClassification(s, t.cls)
	choices := make([]conversation.OrderSummary, 0, len(orders))
	for _, o := range orders {
		choices = append(choices, o.Summary())
	}
	pauseForOrderID(s, enumerateReply(choices), choices)
}

// continueOrderID handles a reply to an order-id prompt. It returns true when
// an id was recovered and the pipeline should run.
func (e *Engine) continueOrderID(s *conversation.State, t *turn) bool {
	id := ""
	if t.clsErr == nil {
		id = t.cls.OrderID
	}
	if id == "" {
		id = extractOrderID(t.message)
	}
	if id == "" {
		id = matchChoice(s.Pause.Choices, t.message)
	}
	if id == "" {
		id = s.Entities.OrderID
	}
	if id == "" {
		s.Reply = replyStillNeedOrderID
		s.Phase = conversation.PhaseAwaitingInput
		s.Status = conversation.StatusAwaitingInput
		return false
	}

	pending := s.Pause.Intent
	s.Pause = nil
	t.message = annotate(t.message, id)
	s.UserMessage = t.message

	newIntent := ""
	if t.clsErr == nil && conversation.NeedsOrder(t.cls.Intent) {
		newIntent = t.cls.Intent
	}
	if newIntent == "" && pending != "" {
		// the triage decision from the earlier turn still stands
		s.Intent = pending
		s.Entities.OrderID = id
		s.Entities.OrderDetails = nil
		s.Entities.PolicyResult = nil
		if t.clsErr == nil && t.cls.UserIssue != "" {
			s.Entities.UserIssue = t.cls.UserIssue
		}
		s.Phase = conversation.PhaseDataFetch
		return true
	}
	t.cls.OrderID = id
	s.Phase = conversation.PhaseAwaitingIntent
	return true
}
