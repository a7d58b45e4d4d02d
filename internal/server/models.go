package server

import (
	"time"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// MessageRequest is one inbound chat turn.
type MessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	UserIdentity   string `json:"user_identity,omitempty"`
	Confirmation   string `json:"confirmation,omitempty"`
}

// ConfirmRequest answers a pending confirmation with a typed decision.
type ConfirmRequest struct {
	Decision string `json:"decision"`
}

// ConversationsResponse lists known conversation ids.
type ConversationsResponse struct {
	Conversations []string `json:"conversations"`
}

// HistoryResponse returns the stored turns of a conversation.
type HistoryResponse struct {
	ConversationID string                 `json:"conversation_id"`
	Messages       []conversation.Message `json:"messages"`
}

// PolicyQueryRequest asks an informational question.
type PolicyQueryRequest struct {
	Query string `json:"query"`
}

// PolicyQueryResponse carries the answer and the matched sections.
type PolicyQueryResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources,omitempty"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// HandoffBacklogResponse reports the human-agent queue depth.
type HandoffBacklogResponse struct {
	Pending    int64         `json:"pending"`
	Lag        int64         `json:"lag"`
	Consumers  int64         `json:"consumers"`
	OldestIdle time.Duration `json:"oldest_idle_ns"`
}
