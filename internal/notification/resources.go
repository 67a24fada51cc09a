package notification

import (
	"context"
	"strings"

	"usagerelay/pkg/models"
)

func (t *Transformer) nova(ctx context.Context, n models.Notification, p fields, d Deployment) ([]UsageRecord, error) {
	for _, key := range []string{"tenant_id", "instance_id", t.flavorField} {
		if p.str(key) == "" {
			return nil, missing(key)
		}
	}
	begin, end, err := t.auditPeriod(ctx, p)
	if err != nil {
		return nil, err
	}
	launched, _ := t.timeField(ctx, p, "launched_at")
	deleted, _ := t.timeField(ctx, p, "deleted_at")

	license, err := DecodeOptions(p.path("image_meta", OptionsKey))
	if err != nil {
		return nil, err
	}

	return []UsageRecord{{
		Service:      ServiceNova,
		ID:           t.ids.recordID(ctx, n, NovaVerifiedEvent, ""),
		ResourceID:   p.str("instance_id"),
		ResourceName: p.str("display_name"),
		TenantID:     p.str("tenant_id"),
		DataCenter:   d.DataCenter,
		Region:       d.Region,
		Window:       NewWindow(launched, begin, end, deleted),
		Server: &ServerUsage{
			FlavorID:     p.str(t.flavorField),
			FlavorName:   p.str("instance_type"),
			Status:       strings.ToUpper(p.str("state")),
			License:      license,
			BandwidthIn:  p.intOr(0, "bandwidth", "public", "bw_in"),
			BandwidthOut: p.intOr(0, "bandwidth", "public", "bw_out"),
		},
	}}, nil
}

// glance emits one record per image, all sharing the notification's envelope.
func (t *Transformer) glance(ctx context.Context, n models.Notification, p fields, d Deployment) ([]UsageRecord, error) {
	if p.str("owner") == "" {
		return nil, missing("owner")
	}
	begin, end, err := t.auditPeriod(ctx, p)
	if err != nil {
		return nil, err
	}
	images := p.list("images")
	if len(images) == 0 {
		return nil, missing("images")
	}

	records := make([]UsageRecord, 0, len(images))
	for _, img := range images {
		id := img.str("id")
		if id == "" {
			return nil, missing("images", "id")
		}
		created, _ := t.timeField(ctx, img, "created_at")
		deleted, _ := t.timeField(ctx, img, "deleted_at")
		props := img.obj("properties")

		records = append(records, UsageRecord{
			Service:      ServiceGlance,
			ID:           t.ids.recordID(ctx, n, GlanceVerifiedEvent, id),
			ResourceID:   id,
			ResourceName: img.str("name"),
			TenantID:     p.str("owner"),
			DataCenter:   d.DataCenter,
			Region:       d.Region,
			Window:       NewWindow(created, begin, end, deleted),
			Image: &ImageUsage{
				ResourceType: imageResourceType(props.str("image_type")),
				Storage:      img.intOr(0, "size"),
				ServerID:     props.str("instance_uuid"),
				ServerName:   props.str("instance_name"),
			},
		})
	}
	return records, nil
}

func imageResourceType(imageType string) string {
	switch strings.ToLower(imageType) {
	case "snapshot":
		return "SNAPSHOT"
	case "backup":
		return "BACKUP"
	default:
		return "BASE"
	}
}

func (t *Transformer) neutron(ctx context.Context, n models.Notification, p fields, d Deployment) ([]UsageRecord, error) {
	for _, key := range []string{"id", "tenant_id", "ip_address"} {
		if p.str(key) == "" {
			return nil, missing(key)
		}
	}
	start, ok := t.timeField(ctx, p, "startTime")
	if !ok {
		return nil, missing("startTime")
	}
	end, ok := t.timeField(ctx, p, "endTime")
	if !ok {
		return nil, missing("endTime")
	}

	return []UsageRecord{{
		Service:    ServiceNeutron,
		ID:         t.ids.recordID(ctx, n, NeutronVerifiedEvent, ""),
		ResourceID: p.str("id"),
		TenantID:   p.str("tenant_id"),
		DataCenter: d.DataCenter,
		Region:     d.Region,
		Window:     Window{Start: start, End: end},
		IP: &IPUsage{
			IPType:    strings.ToUpper(p.str("ip_type")),
			IPAddress: p.str("ip_address"),
		},
	}}, nil
}
