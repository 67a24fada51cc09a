package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagerelay/pkg/models"
)

func sampleNotification() models.Notification {
	return models.Notification{
		"message_id":   "m-1",
		"event_type":   "compute.instance.exists",
		"publisher_id": "compute.c-10-20.dfw1",
		"payload": map[string]interface{}{
			"tenant_id": "1001",
			"region":    "DFW",
			"memory_mb": int64(512),
			"image_meta": map[string]interface{}{
				"com_rackspace__1__options": "4",
			},
			"images": []interface{}{
				map[string]interface{}{"id": "img-1"},
			},
		},
	}
}

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{name: "payload field", expr: `payload.region`},
		{name: "event type comparison", expr: `event_type == "image.exists"`},
		{name: "string extension", expr: `payload.region.lowerAscii()`},
		{name: "invalid syntax", expr: `payload.region ==`, wantError: true},
		{name: "undefined variable", expr: `source == "api"`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFilterExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	assert.NoError(t, eval.ValidateFilterExpression(`event_type.startsWith("compute.")`))
	assert.Error(t, eval.ValidateFilterExpression(`event_type`))
}

func TestEvaluateFilter(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	ctx := context.Background()
	n := sampleNotification()

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{name: "event prefix", expr: `event_type.startsWith("compute.instance")`, want: true},
		{name: "tenant mismatch", expr: `payload.tenant_id == "2002"`, want: false},
		{name: "has field", expr: `has(payload.region)`, want: true},
		{name: "missing field", expr: `has(payload.deleted_at)`, want: false},
		{name: "whole notification", expr: `notification.message_id == "m-1"`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.EvaluateFilter(ctx, tt.expr, n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateTransform(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	ctx := context.Background()
	n := sampleNotification()

	tests := []struct {
		name string
		expr string
		want interface{}
	}{
		{name: "lowercase", expr: `payload.region.lowerAscii()`, want: "dfw"},
		{name: "concatenation", expr: `"tenant-" + payload.tenant_id`, want: "tenant-1001"},
		{name: "conditional", expr: `has(payload.flavor) ? payload.flavor : "standard"`, want: "standard"},
		{name: "arithmetic", expr: `payload.memory_mb * 2`, want: int64(1024)},
		{name: "list index", expr: `payload.images[0].id`, want: "img-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.EvaluateTransform(ctx, tt.expr, n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateMissingPayload(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	got, err := eval.EvaluateFilter(context.Background(), `has(payload.region)`, models.Notification{"message_id": "m"})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestExpressionExamplesCompile(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range GuardExpressionExamples {
		t.Run("guard_"+name, func(t *testing.T) {
			assert.NoError(t, eval.ValidateFilterExpression(expr))
		})
	}
	for name, expr := range TransformExpressionExamples {
		t.Run("transform_"+name, func(t *testing.T) {
			assert.NoError(t, eval.ValidateExpression(expr))
		})
	}
}
