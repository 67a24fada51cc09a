package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"usagerelay/pkg/logging"
)

func TestNew(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "", "bogus"} {
		log, err := New(level)
		require.NoError(t, err, level)
		assert.NotNil(t, log)
	}
}

func TestContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := &SugaredLogger{SugaredLogger: zap.New(core).Sugar()}
	log.SetServiceName("relay-service")

	ctx := logging.WithMessageID(context.Background(), "m-1")
	log.With("handler", "atompub").InfowCtx(ctx, "delivered", "code", 201)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "m-1", fields["message_id"])
	assert.Equal(t, "relay-service", fields["service_name"])
	assert.Equal(t, "atompub", fields["handler"])
	assert.EqualValues(t, 201, fields["code"])
}
