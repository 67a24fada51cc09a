package filtering

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagerelay/internal/config"
	"usagerelay/internal/logger"
	"usagerelay/pkg/cel"
	"usagerelay/pkg/models"
)

func notification(payload map[string]interface{}) models.Notification {
	return models.Notification{
		"message_id": "m-1",
		"event_type": "compute.instance.exists",
		"payload":    payload,
	}
}

func TestCELFilter(t *testing.T) {
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)

	f, err := NewCELFilter(eval, "lower_region", config.PayloadFilterConfig{
		Method:     "cel",
		Field:      "region",
		Expression: `payload.region.lowerAscii()`,
		When:       `event_type.startsWith("compute.")`,
	})
	require.NoError(t, err)
	assert.Equal(t, "lower_region", f.Name())

	n := notification(map[string]interface{}{"region": "DFW"})
	require.NoError(t, f.Apply(context.Background(), n))
	v, _ := n.GetPayloadField("region")
	assert.Equal(t, "dfw", v)

	other := notification(map[string]interface{}{"region": "DFW"})
	other["event_type"] = "image.exists"
	require.NoError(t, f.Apply(context.Background(), other))
	v, _ = other.GetPayloadField("region")
	assert.Equal(t, "DFW", v)
}

func TestCELFilterCompileErrors(t *testing.T) {
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)

	_, err = NewCELFilter(eval, "bad", config.PayloadFilterConfig{Field: "x", Expression: `payload.`})
	assert.Error(t, err)

	_, err = NewCELFilter(eval, "bad_guard", config.PayloadFilterConfig{Field: "x", Expression: `1`, When: `event_type`})
	assert.Error(t, err)
}

func TestMapFilter(t *testing.T) {
	f := NewMapFilterFromValues("region_map", "region", map[string]string{"DFW": "dfw1", "ord": "ord1"})

	tests := []struct {
		name    string
		payload map[string]interface{}
		want    interface{}
	}{
		{name: "mapped", payload: map[string]interface{}{"region": "dfw"}, want: "dfw1"},
		{name: "case insensitive", payload: map[string]interface{}{"region": "ORD"}, want: "ord1"},
		{name: "unmapped", payload: map[string]interface{}{"region": "lon"}, want: "lon"},
		{name: "absent", payload: map[string]interface{}{}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := notification(tt.payload)
			require.NoError(t, f.Apply(context.Background(), n))
			v, _ := n.GetPayloadField("region")
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestBuildPayloadFiltersFromMapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("values:\n  DFW: dfw1\n  IAD: iad3\n"), 0o600))

	defs := map[string]config.PayloadFilterConfig{
		"regions": {Method: "map", Field: "region", MapFile: path},
		"tenant":  {Method: "cel", Field: "tenant_id", Expression: `"t-" + payload.tenant_id`},
	}

	filters, err := BuildPayloadFilters([]string{"regions", "tenant"}, defs, logger.NopLogger())
	require.NoError(t, err)
	require.Len(t, filters, 2)

	n := notification(map[string]interface{}{"region": "iad", "tenant_id": "42"})
	require.NoError(t, ApplyAll(context.Background(), filters, n))

	assert.Equal(t, "iad3", n.Payload()["region"])
	assert.Equal(t, "t-42", n.Payload()["tenant_id"])
}

func TestBuildPayloadFiltersUnknown(t *testing.T) {
	_, err := BuildPayloadFilters([]string{"missing"}, nil, logger.NopLogger())
	assert.Error(t, err)

	filters, err := BuildPayloadFilters(nil, nil, logger.NopLogger())
	assert.NoError(t, err)
	assert.Nil(t, filters)
}

func TestApplyAllContinuesAfterFailure(t *testing.T) {
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)

	failing, err := NewCELFilter(eval, "needs_flavor", config.PayloadFilterConfig{Field: "flavor", Expression: `payload.flavor + "x"`})
	require.NoError(t, err)
	mapping := NewMapFilterFromValues("regions", "region", map[string]string{"dfw": "dfw1"})

	n := notification(map[string]interface{}{"region": "dfw"})
	err = ApplyAll(context.Background(), []PayloadFilter{failing, mapping}, n)
	assert.Error(t, err)
	assert.Equal(t, "dfw1", n.Payload()["region"])
	_, ok := n.GetPayloadField("flavor")
	assert.False(t, ok)
}
