package streams

import "fmt"

// Event types published by the service.
const (
	EventHandoffRequested = "conversation.handoff.requested"
)

// Definition is one registry entry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventHandoffRequested,
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event_id", "conversation_id", "reason", "occurred_at"],
  "properties": {
    "event_id": {"type": "string", "minLength": 1},
    "conversation_id": {"type": "string", "minLength": 1},
    "reason": {"type": "string", "enum": ["step_failure", "handoff", "invocation_budget", "internal_error"]},
    "last_error": {"type": "string"},
    "intent": {"type": "string"},
    "order_id": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": false
}`),
	},
}

// RegisterBaseSchemas loads every built-in definition into reg.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}
