// Package notification turns exists notifications into usage records.
package notification

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"usagerelay/internal/logger"
	"usagerelay/pkg/errors"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/models"
)

// Service identifies the product family of a usage record.
type Service string

const (
	ServiceNova    Service = "nova"
	ServiceGlance  Service = "glance"
	ServiceNeutron Service = "neutron"
)

// Verified event types and Atom titles per service.
const (
	NovaVerifiedEvent    = "compute.instance.exists.verified.cuf"
	GlanceVerifiedEvent  = "image.exists.verified.cuf"
	NeutronVerifiedEvent = "ip.exists.verified.cuf"

	DefaultFlavorField = "instance_type_id"
)

var serviceTitles = map[Service]string{
	ServiceNova:    "Server",
	ServiceGlance:  "Glance",
	ServiceNeutron: "NeutronPubIPv4",
}

func (s Service) Title() string { return serviceTitles[s] }

// ServiceFor maps an exists event type to its service.
func ServiceFor(eventType string) (Service, bool) {
	switch {
	case strings.Contains(eventType, "instance.exists"):
		return ServiceNova, true
	case strings.Contains(eventType, "image.exists"):
		return ServiceGlance, true
	case strings.Contains(eventType, "ip.exists"):
		return ServiceNeutron, true
	}
	return "", false
}

// Deployment locates the records of this relay.
type Deployment struct {
	DataCenter string
	Region     string
}

// ParseDeployment reads "DATACENTER=x,REGION=y" in either order.
func ParseDeployment(categories string) (Deployment, error) {
	var d Deployment
	for _, part := range strings.Split(categories, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "DATACENTER":
			d.DataCenter = strings.TrimSpace(value)
		case "REGION":
			d.Region = strings.TrimSpace(value)
		}
	}
	if d.DataCenter == "" || d.Region == "" {
		return Deployment{}, errors.ErrConfig.
			WithMessage("atom_categories %q must carry DATACENTER=<dc>,REGION=<region>", categories)
	}
	return d, nil
}

type ServerUsage struct {
	FlavorID     string
	FlavorName   string
	Status       string
	License      License
	BandwidthIn  int64
	BandwidthOut int64
}

type ImageUsage struct {
	ResourceType string
	Storage      int64
	ServerID     string
	ServerName   string
}

type IPUsage struct {
	IPType    string
	IPAddress string
}

// UsageRecord is one CUF event. Exactly one of Server, Image or IP is set.
type UsageRecord struct {
	Service      Service
	ID           string
	ResourceID   string
	ResourceName string
	TenantID     string
	DataCenter   string
	Region       string
	Window       Window

	Server *ServerUsage
	Image  *ImageUsage
	IP     *IPUsage
}

// Envelope groups the records produced by one notification.
type Envelope struct {
	Service           Service
	EventType         string
	OriginalMessageID string
	Records           []UsageRecord
}

func (e *Envelope) Title() string { return e.Service.Title() }

// Transformer builds usage records. It is safe for concurrent use.
type Transformer struct {
	flavorField string
	logger      logger.Logger
	ids         idGenerator
}

type Option func(*Transformer)

// WithRandomID replaces the fallback id source.
func WithRandomID(fn func() string) Option {
	return func(t *Transformer) { t.ids.random = fn }
}

func NewTransformer(flavorField string, log logger.Logger, opts ...Option) *Transformer {
	if flavorField == "" {
		flavorField = DefaultFlavorField
	}
	t := &Transformer{
		flavorField: flavorField,
		logger:      log,
		ids:         idGenerator{random: uuid.NewString, logger: log},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transform dispatches on the event type. Missing required fields and unknown
// license bitfields return ErrMalformedNotification.
func (t *Transformer) Transform(ctx context.Context, n models.Notification, d Deployment) (*Envelope, error) {
	svc, ok := ServiceFor(n.EventType())
	if !ok {
		return nil, errors.ErrMalformedNotification.
			WithMessage("no usage record for event type %q", n.EventType())
	}
	payload := fields(n.Payload())
	if payload == nil {
		return nil, errors.ErrMalformedNotification.WithMessage("notification has no payload")
	}

	env := &Envelope{Service: svc, OriginalMessageID: n.OriginalMessageID()}
	var err error
	switch svc {
	case ServiceNova:
		env.EventType = NovaVerifiedEvent
		env.Records, err = t.nova(ctx, n, payload, d)
	case ServiceGlance:
		env.EventType = GlanceVerifiedEvent
		env.Records, err = t.glance(ctx, n, payload, d)
	case ServiceNeutron:
		env.EventType = NeutronVerifiedEvent
		env.Records, err = t.neutron(ctx, n, payload, d)
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

// timeField parses a payload date. Unparsable values are logged, counted and
// treated as absent.
func (t *Transformer) timeField(ctx context.Context, f fields, key string) (time.Time, bool) {
	parsed, ok, err := ParseTime(key, f.str(key))
	if err != nil {
		metrics.NotificationParseErrorsTotal.WithLabelValues(key).Inc()
		t.logger.WarnwCtx(ctx, "Unparsable date treated as absent", "field", key, "error", err)
		return time.Time{}, false
	}
	return parsed, ok
}

// auditPeriod returns the required audit period bounds.
func (t *Transformer) auditPeriod(ctx context.Context, f fields) (time.Time, time.Time, error) {
	begin, ok := t.timeField(ctx, f, "audit_period_beginning")
	if !ok {
		return time.Time{}, time.Time{}, missing("audit_period_beginning")
	}
	end, ok := t.timeField(ctx, f, "audit_period_ending")
	if !ok {
		return time.Time{}, time.Time{}, missing("audit_period_ending")
	}
	return begin, end, nil
}

func missing(keys ...string) error {
	return errors.ErrMalformedNotification.WithMessage("missing required field %s", strings.Join(keys, "."))
}
