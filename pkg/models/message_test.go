package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageAckOnce(t *testing.T) {
	calls := 0
	msg := NewMessageBuilder().
		WithMessageID("m1").
		WithEventType("compute.instance.exists").
		WithAck(func() { calls++ }).
		Build()

	assert.False(t, msg.Acknowledged())
	msg.Ack()
	msg.Ack()
	assert.True(t, msg.Acknowledged())
	assert.Equal(t, 1, calls)
}

func TestMessageAckWithoutTransport(t *testing.T) {
	msg := NewMessage(Notification{"message_id": "m1"}, nil)
	msg.Ack()
	assert.True(t, msg.Acknowledged())
}

func TestMessageNackSettlesOnce(t *testing.T) {
	acks, nacks := 0, 0
	msg := NewMessage(Notification{"message_id": "m1"}, func() { acks++ })
	msg.SetNack(func() { nacks++ })

	assert.False(t, msg.Settled())
	msg.Nack()
	msg.Ack()
	msg.Nack()

	assert.True(t, msg.Settled())
	assert.False(t, msg.Acknowledged())
	assert.Equal(t, 0, acks)
	assert.Equal(t, 1, nacks)
}

func TestNotificationAccessors(t *testing.T) {
	n := Notification{
		"message_id":          "m1",
		"event_type":          "image.exists",
		"original_message_id": "orig",
		"_unique_id":          "u1",
		"payload":             map[string]interface{}{"owner": "t1"},
	}

	assert.Equal(t, "m1", n.MessageID())
	assert.Equal(t, "image.exists", n.EventType())
	assert.Equal(t, "orig", n.OriginalMessageID())
	assert.Equal(t, "u1", n.UniqueID())
	assert.Equal(t, "t1", n.Payload()["owner"])
	assert.Equal(t, "", Notification{"message_id": 42}.MessageID())
}

func TestNotificationClone(t *testing.T) {
	n := Notification{"message_id": "m1", "payload": map[string]interface{}{"region": "dfw"}}
	c := n.Clone()
	c.SetPayloadField("region", "ord")

	v, _ := n.GetPayloadField("region")
	assert.Equal(t, "dfw", v)
	v, _ = c.GetPayloadField("region")
	assert.Equal(t, "ord", v)
}

func TestValidateNotification(t *testing.T) {
	tests := []struct {
		name  string
		n     Notification
		field string
	}{
		{name: "nil", n: nil, field: "notification"},
		{name: "no id", n: Notification{"event_type": "x"}, field: "message_id"},
		{name: "no type", n: Notification{"message_id": "m"}, field: "event_type"},
		{name: "valid", n: Notification{"message_id": "m", "event_type": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNotification(tt.n)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestMissingKeys(t *testing.T) {
	n := Notification{"message_id": "m", "payload": map[string]interface{}{}}
	assert.Equal(t, []string{"publisher_id", "event_type", "priority", "timestamp"}, n.MissingKeys(EventKeys...))
}
