// Package resolution turns a resolved request into the customer-facing reply.
package resolution

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

// Actions recorded on a Resolution.
const (
	ActionRefundApproved   = "refund_approved"
	ActionReturnApproved   = "return_approved"
	ActionExchangeApproved = "exchange_approved"
	ActionCancelled        = "order_cancelled"
	ActionDenied           = "request_denied"
	ActionTrackingInfo     = "tracking_info"
	ActionComplaintLogged  = "complaint_logged"
	ActionTicketOpened     = "technical_ticket"
	ActionGeneralAnswer    = "general_answer"
)

const dateLayout = "2006-01-02"

// Generator renders replies from fixed templates.
type Generator struct{}

// New creates a template generator.
func New() *Generator { return &Generator{} }

// LabelID names the return label artifact for an order.
func LabelID(orderID string) string {
	return "label-" + orderID
}

// GenerateResolution implements the orchestrator contract.
func (g *Generator) GenerateResolution(ctx context.Context, order *conversation.OrderDetails, intent string, policy *conversation.PolicyResult) (conversation.Resolution, error) {
	if err := ctx.Err(); err != nil {
		return conversation.Resolution{}, err
	}
	if conversation.IsDestructive(intent) {
		if order == nil {
			return conversation.Resolution{}, fmt.Errorf("%s requires an order", intent)
		}
		if policy == nil || !policy.Allowed {
			return denied(intent, order, policy), nil
		}
		return approved(intent, order), nil
	}

	switch intent {
	case conversation.IntentOrderTracking:
		return tracking(order), nil
	case conversation.IntentComplaint:
		if order != nil {
			return conversation.Resolution{Action: ActionComplaintLogged, Message: fmt.Sprintf(
				"I'm truly sorry to hear about your experience with order #%s. I've documented your complaint and escalated it to our quality team. A specialist will contact you within 24 hours.",
				order.OrderID)}, nil
		}
		return conversation.Resolution{Action: ActionComplaintLogged, Message: "I'm truly sorry to hear about your experience. I've documented your complaint and a specialist will contact you within 24 hours. Can you share more details so we can help?"}, nil
	case conversation.IntentTechnicalIssue:
		return conversation.Resolution{Action: ActionTicketOpened, Message: "I understand you're experiencing a technical issue. I've logged it with our technical support team and they'll reach out within 4 hours. In the meantime, restarting the app or clearing your browser cache often helps."}, nil
	case conversation.IntentGeneralQuestion:
		return conversation.Resolution{Action: ActionGeneralAnswer, Message: "Thanks for reaching out! I can help with order tracking, returns, refunds, exchanges and cancellations. For anything else a specialist can assist you; just let me know."}, nil
	}
	return conversation.Resolution{}, fmt.Errorf("no resolution template for intent %q", intent)
}

func describe(order *conversation.OrderDetails) string {
	if order.Product == "" {
		return "#" + order.OrderID
	}
	return fmt.Sprintf("#%s (%s)", order.OrderID, order.Product)
}

func approved(intent string, order *conversation.OrderDetails) conversation.Resolution {
	ref := describe(order)
	switch intent {
	case conversation.IntentRefund:
		return conversation.Resolution{Action: ActionRefundApproved, Message: fmt.Sprintf(
			"Good news! Your refund request for order %s has been approved. The refund will be processed within 5-7 business days to your original payment method.", ref)}
	case conversation.IntentReturn:
		return conversation.Resolution{Action: ActionReturnApproved, Artifact: LabelID(order.OrderID), Message: fmt.Sprintf(
			"Your return request for order %s has been approved! A prepaid return label (%s) is on its way to your email. Once we receive and inspect the item, we'll process your refund.", ref, LabelID(order.OrderID))}
	case conversation.IntentExchange:
		return conversation.Resolution{Action: ActionExchangeApproved, Artifact: LabelID(order.OrderID), Message: fmt.Sprintf(
			"Your exchange request for order %s has been approved! Let me know the size or colour you'd like, and we'll email a prepaid return label (%s) for the original item.", ref, LabelID(order.OrderID))}
	}
	return conversation.Resolution{Action: ActionCancelled, Message: fmt.Sprintf(
		"Your cancellation for order %s has been processed. Any charge will be returned to your original payment method within 5-7 business days.", ref)}
}

func denied(intent string, order *conversation.OrderDetails, policy *conversation.PolicyResult) conversation.Resolution {
	reason := "it is not eligible under our policy"
	if policy != nil && strings.TrimSpace(policy.Reason) != "" {
		reason = policy.Reason
	}
	noun := map[string]string{
		conversation.IntentRefund:   "a refund",
		conversation.IntentReturn:   "a return",
		conversation.IntentExchange: "an exchange",
		conversation.IntentCancel:   "a cancellation",
	}[intent]
	return conversation.Resolution{Action: ActionDenied, Message: fmt.Sprintf(
		"I'm sorry, but we can't process %s for order %s. Reason: %s. If you believe this is an error, I can connect you with a specialist.", noun, describe(order), reason)}
}

func tracking(order *conversation.OrderDetails) conversation.Resolution {
	if order == nil {
		return conversation.Resolution{Action: ActionTrackingInfo, Message: "I couldn't find tracking information for this order. Please verify your Order ID and try again."}
	}
	ref := describe(order)
	var msg string
	switch strings.ToLower(order.Status) {
	case "delivered":
		when := "recently"
		if order.DeliveredDate != nil {
			when = "on " + order.DeliveredDate.Format(dateLayout)
		}
		msg = fmt.Sprintf("Order %s was delivered %s. If you haven't received it, please check with neighbours or building management.", ref, when)
	case "shipped":
		msg = fmt.Sprintf("Order %s is in transit. It was placed on %s and should arrive soon.", ref, order.OrderDate.Format(dateLayout))
	default:
		msg = fmt.Sprintf("Order %s is currently %s. It was placed on %s.", ref, order.Status, order.OrderDate.Format(dateLayout))
	}
	return conversation.Resolution{Action: ActionTrackingInfo, Message: msg}
}
