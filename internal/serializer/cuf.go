// Package serializer renders usage records and notifications as Atom entries.
package serializer

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"usagerelay/internal/notification"
)

const (
	EventNamespace = "http://docs.rackspace.com/core/event"
	AtomNamespace  = "http://www.w3.org/2005/Atom"
	xmlHeader      = `<?xml version="1.0" encoding="utf-8"?>` + "\n"
)

type productSchema struct {
	prefix      string
	namespace   string
	serviceCode string
}

var products = map[notification.Service]productSchema{
	notification.ServiceNova:    {prefix: "nova", namespace: "http://docs.rackspace.com/event/nova", serviceCode: "CloudServersOpenStack"},
	notification.ServiceGlance:  {prefix: "glance", namespace: "http://docs.rackspace.com/usage/glance", serviceCode: "Glance"},
	notification.ServiceNeutron: {prefix: "neutron", namespace: "http://docs.rackspace.com/usage/neutron/public-ip-usage", serviceCode: "CloudNetworks"},
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// attrs appends name=value pairs, skipping empty values.
func attrs(list []xml.Attr, kv ...string) []xml.Attr {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			list = append(list, attr(kv[i], kv[i+1]))
		}
	}
	return list
}

// MarshalCUF renders records as consecutive CUF event elements.
func MarshalCUF(records []notification.UsageRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	for _, r := range records {
		if err := encodeEvent(enc, r); err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeEvent(enc *xml.Encoder, r notification.UsageRecord) error {
	schema, ok := products[r.Service]
	if !ok {
		return fmt.Errorf("no CUF schema for service %q", r.Service)
	}

	event := xml.StartElement{Name: xml.Name{Local: "event"}}
	event.Attr = attrs(event.Attr,
		"xmlns", EventNamespace,
		"xmlns:"+schema.prefix, schema.namespace,
		"version", "1",
		"id", r.ID,
		"resourceId", r.ResourceID,
		"resourceName", r.ResourceName,
		"tenantId", r.TenantID,
		"type", "USAGE",
		"dataCenter", r.DataCenter,
		"region", r.Region,
		"startTime", r.Window.StartTime(),
		"endTime", r.Window.EndTime(),
	)

	product := xml.StartElement{Name: xml.Name{Local: schema.prefix + ":product"}}
	product.Attr = attrs(product.Attr, "version", "1", "serviceCode", schema.serviceCode)
	switch {
	case r.Server != nil:
		s := r.Server
		product.Attr = attrs(product.Attr,
			"resourceType", "SERVER",
			"flavorId", s.FlavorID,
			"flavorName", s.FlavorName,
			"status", s.Status,
			"osLicenseType", s.License.OS,
			"applicationLicense", s.License.Application,
			"bandwidthIn", strconv.FormatInt(s.BandwidthIn, 10),
			"bandwidthOut", strconv.FormatInt(s.BandwidthOut, 10),
		)
	case r.Image != nil:
		i := r.Image
		product.Attr = attrs(product.Attr,
			"resourceType", i.ResourceType,
			"storage", strconv.FormatInt(i.Storage, 10),
			"serverId", i.ServerID,
			"serverName", i.ServerName,
		)
	case r.IP != nil:
		product.Attr = attrs(product.Attr,
			"resourceType", "IP",
			"ipType", r.IP.IPType,
		)
	default:
		return fmt.Errorf("usage record %s has no product", r.ID)
	}

	for _, tok := range []xml.Token{event, product, product.End(), event.End()} {
		if err := enc.EncodeToken(tok); err != nil {
			return err
		}
	}
	return nil
}

// MarshalCUFEntry wraps the envelope's CUF events in an atom:entry whose
// content element carries the events as XML, not as escaped text.
func MarshalCUFEntry(env *notification.Envelope) ([]byte, error) {
	events, err := MarshalCUF(env.Records)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	enc := xml.NewEncoder(&buf)

	entry := xml.StartElement{Name: xml.Name{Local: "atom:entry"}}
	entry.Attr = attrs(entry.Attr, "xmlns:atom", AtomNamespace)
	if env.Service == notification.ServiceGlance {
		entry.Attr = attrs(entry.Attr,
			"xmlns", EventNamespace,
			"xmlns:glance", products[notification.ServiceGlance].namespace,
		)
	}

	tokens := []xml.Token{entry}
	for _, term := range []string{env.EventType, "original_message_id:" + env.OriginalMessageID} {
		cat := xml.StartElement{Name: xml.Name{Local: "atom:category"}, Attr: []xml.Attr{attr("term", term)}}
		tokens = append(tokens, cat, cat.End())
	}
	title := xml.StartElement{Name: xml.Name{Local: "atom:title"}, Attr: []xml.Attr{attr("type", "text")}}
	tokens = append(tokens, title, xml.CharData(env.Title()), title.End())
	content := xml.StartElement{Name: xml.Name{Local: "atom:content"}, Attr: []xml.Attr{attr("type", "application/xml")}}
	tokens = append(tokens, content)

	for _, tok := range tokens {
		if err := enc.EncodeToken(tok); err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	// Close the open tags by hand so the events are written verbatim.
	buf.Write(events)
	buf.WriteString("</atom:content></atom:entry>")
	return buf.Bytes(), nil
}
