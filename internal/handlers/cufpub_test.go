package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagerelay/internal/config"
	"usagerelay/internal/pipeline"
	"usagerelay/pkg/models"
)

func novaVerified() *models.Message {
	msg := message("msg-1", "compute.instance.exists.verified", map[string]interface{}{
		"tenant_id":              "2882",
		"audit_period_beginning": "2012-09-15 11:51:11",
		"audit_period_ending":    "2012-09-16 11:51:11",
		"display_name":           "test",
		"bandwidth": map[string]interface{}{
			"public": map[string]interface{}{"bw_in": 1001.0, "bw_out": 19992.0},
		},
		"image_meta":       map[string]interface{}{"com.rackspace__1__options": "1"},
		"instance_id":      "56",
		"instance_type_id": "10",
		"instance_type":    "m1.nano",
		"launched_at":      "2012-09-14 11:51:11",
		"state":            "active",
	})
	msg.Body["original_message_id"] = "7f2f0e12-fa8a-49ac-985e-d74d06a38750"
	return msg
}

func TestCufPubDeliversNovaUsage(t *testing.T) {
	srv := newRecorder(t, http.StatusCreated, createdEntry)
	cfg := testConfig()
	cfg.CufPub = config.CufPubConfig{DeliveryConfig: deliveryConfig(srv.URL)}

	h, err := NewCufPub(testDeps(cfg))
	require.NoError(t, err)

	msg := novaVerified()
	env := run(h, msg)

	reqs := srv.captured()
	require.Len(t, reqs, 1)
	body := reqs[0].Body
	assert.Contains(t, body, `id="00efc101-1a92-528e-bd71-7fa023d4e952"`)
	assert.Contains(t, body, `term="original_message_id:7f2f0e12-fa8a-49ac-985e-d74d06a38750"`)
	assert.Contains(t, body, `dataCenter="DFW1"`)
	assert.Contains(t, body, `region="DFW"`)
	assert.Contains(t, body, `<atom:title type="text">Server</atom:title>`)

	results, ok := env.Lookup(pipeline.CufPubResults)
	require.True(t, ok)
	assert.Equal(t, pipeline.DeliveryResult{
		Code:      201,
		Message:   "Success",
		Service:   "nova",
		AHEventID: "ah-1",
	}, results["msg-1"])
	assert.True(t, msg.Acknowledged())
}

func TestCufPubMalformedNotification(t *testing.T) {
	srv := newRecorder(t, http.StatusCreated, createdEntry)
	cfg := testConfig()
	cfg.CufPub = config.CufPubConfig{DeliveryConfig: deliveryConfig(srv.URL)}

	h, err := NewCufPub(testDeps(cfg))
	require.NoError(t, err)

	msg := novaVerified()
	delete(msg.Body.Payload(), "tenant_id")
	env := run(h, msg, message("msg-2", "compute.instance.create.end", map[string]interface{}{}))

	assert.Empty(t, srv.captured())
	results, _ := env.Lookup(pipeline.CufPubResults)
	require.Len(t, results, 2)
	assert.True(t, results["msg-1"].Error)
	assert.Equal(t, "nova", results["msg-1"].Service)
	assert.True(t, strings.HasPrefix(results["msg-1"].Message, "Malformed Notification: "))
	assert.True(t, results["msg-2"].Error)
	assert.Empty(t, results["msg-2"].Service)
}

func TestCufPubInvalidContentIsTerminal(t *testing.T) {
	srv := newRecorder(t, http.StatusBadRequest, "bad xml")
	cfg := testConfig()
	cfg.CufPub = config.CufPubConfig{DeliveryConfig: deliveryConfig(srv.URL)}

	h, err := NewCufPub(testDeps(cfg))
	require.NoError(t, err)

	env := run(h, novaVerified())

	assert.Len(t, srv.captured(), 1)
	results, _ := env.Lookup(pipeline.CufPubResults)
	assert.False(t, results["msg-1"].Error)
	assert.Equal(t, 400, results["msg-1"].Code)
	assert.Empty(t, results["msg-1"].Service)
}

func TestNewCufPubRequiresDeployment(t *testing.T) {
	cfg := testConfig()
	cfg.EventFeed.AtomCategories = "REGION=DFW"

	_, err := NewCufPub(testDeps(cfg))
	assert.Error(t, err)
}
