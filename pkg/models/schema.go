package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// EventKeys are the top-level keys every stored event is expected to carry.
var EventKeys = []string{"message_id", "publisher_id", "event_type", "priority", "payload", "timestamp"}

// ValidateNotification checks the fields the pipeline cannot run without.
func ValidateNotification(n Notification) error {
	if n == nil {
		return &ValidationError{
			Field:   "notification",
			Message: "notification cannot be nil",
		}
	}

	if n.MessageID() == "" {
		return &ValidationError{
			Field:   "message_id",
			Message: "message ID is required",
		}
	}

	if n.EventType() == "" {
		return &ValidationError{
			Field:   "event_type",
			Message: "event type is required",
		}
	}

	return nil
}

// MissingKeys returns the keys absent from n, in the order given.
func (n Notification) MissingKeys(keys ...string) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := n[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

func (n Notification) GetPayloadField(name string) (interface{}, bool) {
	p := n.Payload()
	if p == nil {
		return nil, false
	}
	value, ok := p[name]
	return value, ok
}

func (n Notification) SetPayloadField(name string, value interface{}) {
	p := n.Payload()
	if p == nil {
		p = make(map[string]interface{})
		n["payload"] = p
	}
	p[name] = value
}
