package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagerelay/pkg/errors"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{name: "object", data: `{"message_id":"m1","payload":{"instance_id":"i"}}`},
		{name: "not json", data: `<xml/>`, wantErr: true},
		{name: "null", data: `null`, wantErr: true},
		{name: "array", data: `[1,2]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := Decode([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsMalformed(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "m1", body.MessageID())
			assert.Equal(t, "i", body.Payload()["instance_id"])
		})
	}
}
