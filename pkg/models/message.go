package models

import (
	"sync"
	"time"
)

// Notification is the decoded body of a broker message.
type Notification map[string]interface{}

func (n Notification) String(key string) string {
	if v, ok := n[key].(string); ok {
		return v
	}
	return ""
}

func (n Notification) MessageID() string { return n.String("message_id") }

func (n Notification) EventType() string { return n.String("event_type") }

func (n Notification) OriginalMessageID() string { return n.String("original_message_id") }

// UniqueID returns the `_unique_id` carried by synthesized notifications.
func (n Notification) UniqueID() string { return n.String("_unique_id") }

// Payload returns the nested payload object, or nil when absent or not an object.
func (n Notification) Payload() map[string]interface{} {
	if p, ok := n["payload"].(map[string]interface{}); ok {
		return p
	}
	return nil
}

// Clone copies the top level and the payload map so payload filters can rewrite
// fields without touching the broker's copy.
func (n Notification) Clone() Notification {
	out := make(Notification, len(n))
	for k, v := range n {
		out[k] = v
	}
	if p := n.Payload(); p != nil {
		cp := make(map[string]interface{}, len(p))
		for k, v := range p {
			cp[k] = v
		}
		out["payload"] = cp
	}
	return out
}

// AckFunc acknowledges a message on its transport.
type AckFunc func()

type Message struct {
	Body       Notification
	Queue      string
	ReceivedAt time.Time
	Headers    map[string]string

	ackFn  AckFunc
	nackFn AckFunc
	once   sync.Once
	mu     sync.Mutex
	acked  bool
	nacked bool
}

func NewMessage(body Notification, ack AckFunc) *Message {
	return &Message{Body: body, ackFn: ack, ReceivedAt: time.Now()}
}

// SetNack installs the negative acknowledgement used by transports that can
// ask for redelivery.
func (m *Message) SetNack(fn AckFunc) {
	m.nackFn = fn
}

// Nack asks for redelivery. Ack and Nack share one settlement: whichever is
// called first wins.
func (m *Message) Nack() {
	m.once.Do(func() {
		if m.nackFn != nil {
			m.nackFn()
		}
		m.mu.Lock()
		m.nacked = true
		m.mu.Unlock()
	})
}

// Settled reports whether Ack or Nack has run.
func (m *Message) Settled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked || m.nacked
}

// Ack acknowledges the message at most once.
func (m *Message) Ack() {
	m.once.Do(func() {
		if m.ackFn != nil {
			m.ackFn()
		}
		m.mu.Lock()
		m.acked = true
		m.mu.Unlock()
	})
}

func (m *Message) Acknowledged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked
}

func (m *Message) MessageID() string { return m.Body.MessageID() }

func (m *Message) EventType() string { return m.Body.EventType() }
