package models

import "time"

type MessageBuilder struct {
	body  Notification
	queue string
	ack   AckFunc
	at    time.Time
}

func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{body: Notification{}}
}

func (b *MessageBuilder) WithMessageID(id string) *MessageBuilder {
	b.body["message_id"] = id
	return b
}

func (b *MessageBuilder) WithEventType(eventType string) *MessageBuilder {
	b.body["event_type"] = eventType
	return b
}

func (b *MessageBuilder) WithOriginalMessageID(id string) *MessageBuilder {
	b.body["original_message_id"] = id
	return b
}

func (b *MessageBuilder) WithPayload(payload map[string]interface{}) *MessageBuilder {
	b.body["payload"] = payload
	return b
}

func (b *MessageBuilder) WithField(key string, value interface{}) *MessageBuilder {
	b.body[key] = value
	return b
}

func (b *MessageBuilder) WithQueue(queue string) *MessageBuilder {
	b.queue = queue
	return b
}

func (b *MessageBuilder) WithAck(ack AckFunc) *MessageBuilder {
	b.ack = ack
	return b
}

func (b *MessageBuilder) WithReceivedAt(at time.Time) *MessageBuilder {
	b.at = at
	return b
}

func (b *MessageBuilder) Build() *Message {
	m := NewMessage(b.body, b.ack)
	m.Queue = b.queue
	if !b.at.IsZero() {
		m.ReceivedAt = b.at
	}
	return m
}
