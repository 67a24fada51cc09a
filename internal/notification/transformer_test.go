package notification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagerelay/internal/logger"
	"usagerelay/pkg/errors"
	"usagerelay/pkg/models"
)

var dfw = Deployment{DataCenter: "DFW1", Region: "DFW"}

func novaExists(launched, deleted string) models.Notification {
	return models.Notification{
		"event_type":          "compute.instance.exists",
		"message_id":          "some_uuid",
		"original_message_id": "7f2f0e12-fa8a-49ac-985e-d74d06a38750",
		"_unique_id":          "e53d007a-fc23-11e1-975c-cfa6b29bb814",
		"payload": map[string]interface{}{
			"tenant_id":              "2882",
			"audit_period_beginning": "2012-09-15 11:51:11",
			"audit_period_ending":    "2012-09-16 11:51:11",
			"display_name":           "test",
			"bandwidth": map[string]interface{}{
				"private": map[string]interface{}{"bw_in": 0.0, "bw_out": 264902.0},
				"public":  map[string]interface{}{"bw_in": 1001.0, "bw_out": 19992.0},
			},
			"image_meta":       map[string]interface{}{OptionsKey: "1"},
			"instance_id":      "56",
			"instance_type_id": "10",
			"instance_type":    "m1.nano",
			"launched_at":      launched,
			"deleted_at":       deleted,
			"state":            "active",
		},
	}
}

func newTransformer() *Transformer {
	return NewTransformer("", logger.NopLogger(), WithRandomID(func() string { return "random-id" }))
}

func TestNovaTimeWindow(t *testing.T) {
	tests := []struct {
		name      string
		launched  string
		deleted   string
		wantStart string
		wantEnd   string
	}{
		{
			name:      "launched inside audit period",
			launched:  "2012-09-15 12:51:11",
			wantStart: "2012-09-15T12:51:11Z",
			wantEnd:   "2012-09-16T11:51:11Z",
		},
		{
			name:      "deleted before audit period end",
			launched:  "2012-09-15 12:51:11",
			deleted:   "2012-09-15 09:51:11",
			wantStart: "2012-09-15T12:51:11Z",
			wantEnd:   "2012-09-15T09:51:11Z",
		},
		{
			name:      "launched before audit period",
			launched:  "2012-09-14 11:51:11",
			wantStart: "2012-09-15T11:51:11Z",
			wantEnd:   "2012-09-16T11:51:11Z",
		},
		{
			name:      "deleted after audit period end",
			launched:  "2012-09-14 11:51:11",
			deleted:   "2012-09-17 00:00:00.123456",
			wantStart: "2012-09-15T11:51:11Z",
			wantEnd:   "2012-09-16T11:51:11Z",
		},
		{
			name:      "unparsable launched_at is absent",
			launched:  "yesterday",
			wantStart: "2012-09-15T11:51:11Z",
			wantEnd:   "2012-09-16T11:51:11Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := newTransformer().Transform(context.Background(), novaExists(tt.launched, tt.deleted), dfw)
			require.NoError(t, err)
			require.Len(t, env.Records, 1)
			w := env.Records[0].Window
			assert.Equal(t, tt.wantStart, w.StartTime())
			assert.Equal(t, tt.wantEnd, w.EndTime())
		})
	}
}

func TestNovaRecord(t *testing.T) {
	env, err := newTransformer().Transform(context.Background(), novaExists("2012-09-14 11:51:11", ""), dfw)
	require.NoError(t, err)

	assert.Equal(t, ServiceNova, env.Service)
	assert.Equal(t, NovaVerifiedEvent, env.EventType)
	assert.Equal(t, "Server", env.Title())
	assert.Equal(t, "7f2f0e12-fa8a-49ac-985e-d74d06a38750", env.OriginalMessageID)

	rec := env.Records[0]
	assert.Equal(t, "00efc101-1a92-528e-bd71-7fa023d4e952", rec.ID)
	assert.Equal(t, "56", rec.ResourceID)
	assert.Equal(t, "test", rec.ResourceName)
	assert.Equal(t, "2882", rec.TenantID)
	assert.Equal(t, "DFW1", rec.DataCenter)
	assert.Equal(t, "DFW", rec.Region)
	require.NotNil(t, rec.Server)
	assert.Equal(t, "10", rec.Server.FlavorID)
	assert.Equal(t, "m1.nano", rec.Server.FlavorName)
	assert.Equal(t, License{OS: "RHEL"}, rec.Server.License)
	assert.EqualValues(t, 1001, rec.Server.BandwidthIn)
	assert.EqualValues(t, 19992, rec.Server.BandwidthOut)
}

func TestNovaDeterministicAcrossRedelivery(t *testing.T) {
	tr := newTransformer()
	first, err := tr.Transform(context.Background(), novaExists("2012-09-14 11:51:11", ""), dfw)
	require.NoError(t, err)

	redelivered := novaExists("2012-09-14 11:51:11", "")
	redelivered["message_id"] = "another_uuid"
	redelivered["_unique_id"] = "11111111-1111-1111-1111-111111111111"
	second, err := tr.Transform(context.Background(), redelivered, dfw)
	require.NoError(t, err)

	assert.Equal(t, first.Records[0].ID, second.Records[0].ID)
}

func TestRecordIDIgnoresSourceEventType(t *testing.T) {
	tr := newTransformer()
	for _, eventType := range []string{"compute.instance.exists", "compute.instance.exists.verified"} {
		t.Run(eventType, func(t *testing.T) {
			n := novaExists("2012-09-14 11:51:11", "")
			n["event_type"] = eventType

			env, err := tr.Transform(context.Background(), n, dfw)
			require.NoError(t, err)
			assert.Equal(t, NovaVerifiedEvent, env.EventType)
			assert.Equal(t, "00efc101-1a92-528e-bd71-7fa023d4e952", env.Records[0].ID)
		})
	}
}

func TestNovaMissingBandwidthDefaultsToZero(t *testing.T) {
	n := novaExists("2012-09-14 11:51:11", "")
	delete(n.Payload(), "bandwidth")

	env, err := newTransformer().Transform(context.Background(), n, dfw)
	require.NoError(t, err)
	assert.Zero(t, env.Records[0].Server.BandwidthIn)
	assert.Zero(t, env.Records[0].Server.BandwidthOut)
}

func TestNovaFlavorFieldConfigurable(t *testing.T) {
	n := novaExists("2012-09-14 11:51:11", "")
	n.Payload()["dummy_flavor_field_name"] = "42"

	env, err := NewTransformer("dummy_flavor_field_name", logger.NopLogger()).Transform(context.Background(), n, dfw)
	require.NoError(t, err)
	assert.Equal(t, "42", env.Records[0].Server.FlavorID)
}

func TestTransformMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(models.Notification)
	}{
		{name: "missing tenant", mutate: func(n models.Notification) { delete(n.Payload(), "tenant_id") }},
		{name: "missing flavor", mutate: func(n models.Notification) { delete(n.Payload(), "instance_type_id") }},
		{name: "missing audit end", mutate: func(n models.Notification) { delete(n.Payload(), "audit_period_ending") }},
		{name: "unparsable audit start", mutate: func(n models.Notification) { n.Payload()["audit_period_beginning"] = "soon" }},
		{name: "unknown options", mutate: func(n models.Notification) {
			n.Payload()["image_meta"] = map[string]interface{}{OptionsKey: "3"}
		}},
		{name: "missing options", mutate: func(n models.Notification) { delete(n.Payload(), "image_meta") }},
		{name: "no payload", mutate: func(n models.Notification) { delete(n, "payload") }},
		{name: "unsupported event", mutate: func(n models.Notification) { n["event_type"] = "compute.instance.create.end" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := novaExists("2012-09-14 11:51:11", "")
			tt.mutate(n)
			_, err := newTransformer().Transform(context.Background(), n, dfw)
			assert.True(t, errors.IsMalformed(err), "got %v", err)
		})
	}
}

func glanceExists() models.Notification {
	return models.Notification{
		"event_type":          "image.exists",
		"message_id":          "18b59543-2e99-4208-ba53-22726c02bd67",
		"original_message_id": "18b59543-2e99-4208-ba53-22726c02bd67",
		"payload": map[string]interface{}{
			"owner":                  "owner1",
			"audit_period_beginning": "2013-09-02 00:00:00",
			"audit_period_ending":    "2013-09-02 23:59:59.999999",
			"images": []interface{}{
				map[string]interface{}{
					"status":     "active",
					"name":       "image1",
					"created_at": "2013-09-02 16:08:10",
					"properties": map[string]interface{}{"image_type": "snapshot", "instance_uuid": "inst_uuid1"},
					"deleted_at": nil,
					"id":         "image1",
					"size":       12345.0,
				},
				map[string]interface{}{
					"status":     "deleted",
					"name":       "image2",
					"created_at": "2013-09-01 16:05:17",
					"properties": map[string]interface{}{"image_type": "backup", "instance_uuid": "inst_uuid2"},
					"deleted_at": "2013-09-02 16:08:46",
					"id":         "image2",
					"size":       67890.0,
				},
			},
		},
	}
}

func TestGlanceOneRecordPerImage(t *testing.T) {
	env, err := newTransformer().Transform(context.Background(), glanceExists(), dfw)
	require.NoError(t, err)

	assert.Equal(t, ServiceGlance, env.Service)
	assert.Equal(t, GlanceVerifiedEvent, env.EventType)
	assert.Equal(t, "Glance", env.Title())
	require.Len(t, env.Records, 2)

	first, second := env.Records[0], env.Records[1]
	assert.Equal(t, "image1", first.ResourceID)
	assert.Equal(t, "owner1", first.TenantID)
	assert.Equal(t, "2013-09-02T16:08:10Z", first.Window.StartTime())
	assert.Equal(t, "2013-09-02T23:59:59Z", first.Window.EndTime())
	assert.Equal(t, &ImageUsage{ResourceType: "SNAPSHOT", Storage: 12345, ServerID: "inst_uuid1"}, first.Image)

	assert.Equal(t, "2013-09-02T00:00:00Z", second.Window.StartTime())
	assert.Equal(t, "2013-09-02T16:08:46Z", second.Window.EndTime())
	assert.Equal(t, "BACKUP", second.Image.ResourceType)

	assert.NotEqual(t, first.ID, second.ID)
	want, _ := DeterministicID("18b59543-2e99-4208-ba53-22726c02bd67", GlanceVerifiedEvent+":image1")
	assert.Equal(t, want, first.ID)
}

func TestNeutronRecord(t *testing.T) {
	n := models.Notification{
		"event_type": "ip.exists",
		"message_id": "33333333-3333-3333-3333-333333333333",
		"_unique_id": "99999999-9999-9999-9999-999999999999",
		"payload": map[string]interface{}{
			"endTime":    "2016-06-13T23:59:59Z",
			"id":         "77777777-7777-7777-7777-777777777777",
			"ip_address": "10.69.221.27",
			"ip_type":    "fixed",
			"startTime":  "2016-06-13T00:00:00Z",
			"tenant_id":  "404",
		},
	}

	env, err := newTransformer().Transform(context.Background(), n, dfw)
	require.NoError(t, err)

	assert.Equal(t, "NeutronPubIPv4", env.Title())
	rec := env.Records[0]
	assert.Equal(t, "e1905c4e-4c6c-555a-af3a-92f8a03d2a99", rec.ID)
	assert.Equal(t, "77777777-7777-7777-7777-777777777777", rec.ResourceID)
	assert.Equal(t, "2016-06-13T00:00:00Z", rec.Window.StartTime())
	assert.Equal(t, "2016-06-13T23:59:59Z", rec.Window.EndTime())
	assert.Equal(t, &IPUsage{IPType: "FIXED", IPAddress: "10.69.221.27"}, rec.IP)
}

func TestRandomIDWithoutCorrelationKey(t *testing.T) {
	n := novaExists("2012-09-14 11:51:11", "")
	delete(n, "original_message_id")
	delete(n, "_unique_id")

	env, err := newTransformer().Transform(context.Background(), n, dfw)
	require.NoError(t, err)
	assert.Equal(t, "random-id", env.Records[0].ID)
}

func TestDeterministicID(t *testing.T) {
	id, ok := DeterministicID("7f2f0e12-fa8a-49ac-985e-d74d06a38750", NovaVerifiedEvent)
	require.True(t, ok)
	assert.Equal(t, "00efc101-1a92-528e-bd71-7fa023d4e952", id)

	a, ok := DeterministicID("not-a-uuid", "x")
	require.True(t, ok)
	b, _ := DeterministicID("not-a-uuid", "x")
	assert.Equal(t, a, b)

	_, ok = DeterministicID("", "x")
	assert.False(t, ok)
}

func TestDecodeOptions(t *testing.T) {
	tests := []struct {
		raw     interface{}
		want    License
		wantErr bool
	}{
		{raw: "0", want: License{OS: "LINUX"}},
		{raw: "1", want: License{OS: "RHEL"}},
		{raw: "2", want: License{}},
		{raw: "4", want: License{OS: "WINDOWS"}},
		{raw: "12", want: License{OS: "WINDOWS", Application: "MSSQL"}},
		{raw: "36", want: License{OS: "WINDOWS", Application: "MSSQL_WEB"}},
		{raw: 36.0, want: License{OS: "WINDOWS", Application: "MSSQL_WEB"}},
		{raw: "64", want: License{OS: "VYATTA"}},
		{raw: "8", wantErr: true},
		{raw: "windows", wantErr: true},
		{raw: nil, wantErr: true},
	}

	for _, tt := range tests {
		got, err := DecodeOptions(tt.raw)
		if tt.wantErr {
			assert.True(t, errors.IsMalformed(err), "raw %v", tt.raw)
			continue
		}
		require.NoError(t, err, "raw %v", tt.raw)
		assert.Equal(t, tt.want, got, "raw %v", tt.raw)
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2012, 9, 15, 11, 51, 11, 0, time.UTC)
	tests := []struct {
		value   string
		ok      bool
		wantErr bool
	}{
		{value: "2012-09-15 11:51:11", ok: true},
		{value: "2012-09-15 11:51:11.123456", ok: true},
		{value: "2012-09-15T11:51:11", ok: true},
		{value: "2012-09-15T11:51:11.5Z", ok: true},
		{value: "15 09 2012 11:51:11", ok: true},
		{value: "", ok: false},
		{value: "09/15/2012", wantErr: true},
	}

	for _, tt := range tests {
		got, ok, err := ParseTime("launched_at", tt.value)
		if tt.wantErr {
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "launched_at", pe.Field)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.ok, ok, tt.value)
		if ok {
			assert.Equal(t, want, got.Truncate(time.Second), tt.value)
		}
	}
}

func TestParseDeployment(t *testing.T) {
	d, err := ParseDeployment("DATACENTER=DFW1,REGION=DFW")
	require.NoError(t, err)
	assert.Equal(t, dfw, d)

	d, err = ParseDeployment(" REGION=ORD , DATACENTER=ORD1 ")
	require.NoError(t, err)
	assert.Equal(t, Deployment{DataCenter: "ORD1", Region: "ORD"}, d)

	_, err = ParseDeployment("foo,bar")
	assert.Error(t, err)
}
