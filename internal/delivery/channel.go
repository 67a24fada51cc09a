package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"usagerelay/internal/auth"
	"usagerelay/internal/config"
	"usagerelay/internal/constants"
	"usagerelay/internal/logger"
	"usagerelay/pkg/errors"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/tracing"
)

const (
	ContentTypeAtom         = "application/atom+xml"
	defaultMaxResponseBytes = 1 << 20
)

// Outcome is a successful send: 201 created or 409 duplicate.
type Outcome struct {
	Status    int
	AHEventID string
	TooLarge  bool
}

func (o Outcome) Duplicate() bool { return o.Status == http.StatusConflict }

// Options configures the HTTP side of a delivery channel.
type Options struct {
	Handler          string
	Timeout          time.Duration
	ValidateSSL      bool
	MaxResponseBytes int64
	RateLimitRPS     float64
	ContentType      string
	// AuthFailureWait is slept after a failed credential fetch.
	AuthFailureWait time.Duration
}

func OptionsFrom(handler string, cfg config.DeliveryConfig) Options {
	return Options{
		Handler:          handler,
		Timeout:          cfg.TimeoutDuration(),
		ValidateSSL:      cfg.ValidateSSL,
		MaxResponseBytes: cfg.MaxResponseBytes,
		RateLimitRPS:     cfg.RateLimitRPS,
		ContentType:      ContentTypeAtom,
		AuthFailureWait:  cfg.IntervalDuration(),
	}
}

func NewHTTPClient(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: !opts.ValidateSSL},
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Channel performs single POSTs with a fixed set of credential headers.
type Channel struct {
	client      *http.Client
	limiter     *rate.Limiter
	headers     http.Header
	handler     string
	contentType string
	maxBytes    int64
	logger      logger.Logger
}

// NewChannel applies the auth strategy once. A failed credential fetch is logged,
// waits opts.AuthFailureWait and leaves the headers without credentials so the
// next send fails and is retried.
func NewChannel(ctx context.Context, client *http.Client, limiter *rate.Limiter, opts Options, strategy auth.Strategy, force bool, sleep SleepFunc, log logger.Logger) *Channel {
	c := &Channel{
		client:      client,
		limiter:     limiter,
		headers:     http.Header{},
		handler:     opts.Handler,
		contentType: opts.ContentType,
		maxBytes:    opts.MaxResponseBytes,
		logger:      log,
	}
	if c.contentType == "" {
		c.contentType = ContentTypeAtom
	}
	if c.maxBytes <= 0 {
		c.maxBytes = defaultMaxResponseBytes
	}

	if err := strategy.Apply(ctx, c.headers, force); err != nil {
		log.ErrorwCtx(ctx, "Authentication failed, backing off",
			"handler", opts.Handler,
			"method", strategy.Name(),
			"wait_seconds", opts.AuthFailureWait.Seconds(),
			"error", err,
		)
		c.headers = http.Header{}
		if sleep != nil {
			_ = sleep(ctx, opts.AuthFailureWait)
		}
	}
	return c
}

func (c *Channel) Send(ctx context.Context, endpoint string, body []byte) (Outcome, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Outcome{}, errors.ErrDeliveryFailed.WithCause(err).WithStatus(0)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, errors.ErrDeliveryFailed.WithCause(err).WithStatus(0).
			WithMessage("invalid endpoint %s", endpoint)
	}
	for k, vs := range c.headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set("Content-Type", c.contentType)
	tracing.InjectHTTP(ctx, req.Header)

	c.logger.DebugwCtx(ctx, "Sending message", "endpoint", endpoint, "bytes", len(body))

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObserveDeliveryDuration(c.handler, time.Since(start))
	if err != nil {
		metrics.IncDeliveryAttempt(c.handler, "transport_error")
		return Outcome{}, errors.ErrDeliveryFailed.WithCause(err).WithStatus(0).
			WithMessage("general delivery failure to %s with: %v", endpoint, err)
	}
	defer resp.Body.Close()

	content, tooLarge, readErr := readLimited(resp.Body, c.maxBytes)
	if readErr != nil {
		c.logger.WarnwCtx(ctx, "Failed to read response body", "endpoint", endpoint, "error", readErr)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		metrics.IncDeliveryAttempt(c.handler, "unauthorized")
		return Outcome{}, errors.ErrUnauthorized.WithMessage("unauthorized or token expired")

	case resp.StatusCode == http.StatusCreated:
		metrics.IncDeliveryAttempt(c.handler, "success")
		out := Outcome{Status: resp.StatusCode, TooLarge: tooLarge}
		if tooLarge {
			c.logger.ErrorwCtx(ctx, "Response too large on successful post", "endpoint", endpoint, "limit_bytes", c.maxBytes)
		} else {
			out.AHEventID = ParseEntryID(content)
		}
		return out, nil

	case resp.StatusCode == http.StatusConflict:
		metrics.IncDeliveryAttempt(c.handler, "duplicate")
		return Outcome{Status: resp.StatusCode}, nil

	case resp.StatusCode == http.StatusBadRequest:
		metrics.IncDeliveryAttempt(c.handler, "invalid_content")
		return Outcome{}, errors.ErrInvalidContent.WithStatus(resp.StatusCode).
			WithMessage("%s rejected content: %s", endpoint, truncate(content, 512))

	default:
		metrics.IncDeliveryAttempt(c.handler, "transient")
		msg := fmt.Sprintf("resource create failed for %s Status: %d, %s", endpoint, resp.StatusCode, truncate(content, 512))
		if tooLarge {
			msg = fmt.Sprintf("resource create failed for %s Status: %d. Also, response was too large.", endpoint, resp.StatusCode)
		}
		return Outcome{}, errors.ErrDeliveryFailed.WithStatus(resp.StatusCode).WithMessage("%s", msg)
	}
}

func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	content, err := io.ReadAll(io.LimitReader(r, limit+1))
	if int64(len(content)) > limit {
		return content[:limit], true, err
	}
	return content, false, err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

type entryID struct {
	ID string `xml:"id"`
}

// ParseEntryID extracts the created entry id from an Atom response, without
// the urn:uuid: prefix. It returns "" when the body carries none.
func ParseEntryID(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var e entryID
	if err := xml.Unmarshal(body, &e); err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.TrimSpace(e.ID), "urn:uuid:")
}
