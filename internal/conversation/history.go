package conversation

import "time"

// Message roles stored in history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultHistoryTurns is the history cap used when none is configured.
const DefaultHistoryTurns = 20

// Message represents a single conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AppendCapped appends a message and drops the oldest entries so that at most
// maxTurns remain. Relative order of the survivors is preserved.
func AppendCapped(history []Message, msg Message, maxTurns int) []Message {
	if maxTurns <= 0 {
		maxTurns = DefaultHistoryTurns
	}
	history = append(history, msg)
	if len(history) > maxTurns {
		trimmed := make([]Message, maxTurns)
		copy(trimmed, history[len(history)-maxTurns:])
		history = trimmed
	}
	return history
}
