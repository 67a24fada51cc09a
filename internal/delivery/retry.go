package delivery

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"usagerelay/internal/auth"
	"usagerelay/internal/config"
	"usagerelay/internal/logger"
	"usagerelay/internal/pipeline"
	"usagerelay/pkg/errors"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/retry"
)

// Kind classifies how a delivery sequence ended.
type Kind string

const (
	KindSuccess        Kind = "success"
	KindDuplicate      Kind = "duplicate"
	KindInvalidContent Kind = "invalid_content"
	KindExhausted      Kind = "exhausted"
	KindCancelled      Kind = "cancelled"
)

// Result is the terminal outcome of Engine.Deliver.
type Result struct {
	Kind      Kind
	Code      int
	Message   string
	AHEventID string
	Attempts  int
}

// Delivered reports whether the endpoint accepted the entry (created or duplicate).
func (r Result) Delivered() bool {
	return r.Kind == KindSuccess || r.Kind == KindDuplicate
}

// Errored is true only when the sequence was interrupted before reaching a
// terminal answer. Exhausted and rejected entries are final, not errors.
func (r Result) Errored() bool {
	return r.Kind == KindCancelled
}

func (r Result) ToDeliveryResult(service string) pipeline.DeliveryResult {
	out := pipeline.DeliveryResult{
		Error:   r.Errored(),
		Code:    r.Code,
		Message: r.Message,
	}
	if r.Delivered() {
		out.Service = service
		out.AHEventID = r.AHEventID
	}
	return out
}

// Params is the retry policy of an engine.
type Params struct {
	// Retries <= 0 means retry forever.
	Retries              int
	Interval             time.Duration
	MaxWait              time.Duration
	FailuresBeforeReauth int
}

func ParamsFrom(cfg config.DeliveryConfig) Params {
	return Params{
		Retries:              cfg.Retries,
		Interval:             cfg.IntervalDuration(),
		MaxWait:              cfg.MaxWaitDuration(),
		FailuresBeforeReauth: cfg.FailuresBeforeReauth,
	}
}

// Engine delivers entries with linear backoff, reauthenticating after a run of
// failures or any 401. It is not safe for concurrent use; each handler owns one.
type Engine struct {
	params   Params
	opts     Options
	strategy auth.Strategy
	client   *http.Client
	limiter  *rate.Limiter
	sleep    SleepFunc
	logger   logger.Logger

	channel   *Channel
	forceAuth bool
}

type EngineOption func(*Engine)

func WithSleep(fn SleepFunc) EngineOption {
	return func(e *Engine) { e.sleep = fn }
}

func WithHTTPClient(c *http.Client) EngineOption {
	return func(e *Engine) { e.client = c }
}

func NewEngine(handler string, cfg config.DeliveryConfig, strategy auth.Strategy, log logger.Logger, opts ...EngineOption) *Engine {
	options := OptionsFrom(handler, cfg)
	e := &Engine{
		params:   ParamsFrom(cfg),
		opts:     options,
		strategy: strategy,
		limiter:  NewLimiter(cfg.RateLimitRPS),
		sleep:    Sleep,
		logger:   log.With("handler", handler),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = NewHTTPClient(options)
	}
	if e.params.FailuresBeforeReauth < 1 {
		e.params.FailuresBeforeReauth = 1
	}
	return e
}

func (e *Engine) newChannel(ctx context.Context, force bool) *Channel {
	return NewChannel(ctx, e.client, e.limiter, e.opts, e.strategy, force, e.sleep, e.logger)
}

// Invalidate drops the current channel and the cached token so the next
// attempt, in this call or the next Deliver, fetches fresh credentials.
func (e *Engine) Invalidate(ctx context.Context) {
	e.channel = nil
	e.forceAuth = true
	if inv, ok := e.strategy.(auth.Invalidator); ok {
		if err := inv.Invalidate(ctx); err != nil {
			e.logger.WarnwCtx(ctx, "Failed to invalidate cached token", "error", err)
		}
	}
}

func (e *Engine) ensureChannel(ctx context.Context) {
	if e.channel != nil {
		return
	}
	e.channel = e.newChannel(ctx, e.forceAuth)
	e.forceAuth = false
}

// Deliver posts body to endpoint until it is accepted, rejected as invalid,
// the retry limit is reached or ctx is done.
func (e *Engine) Deliver(ctx context.Context, endpoint string, body []byte) Result {
	e.ensureChannel(ctx)

	backOff := retry.NewLinearBackOff(e.params.Interval, e.params.MaxWait)
	tries, failures := 0, 0
	code, msg := 0, ""

	for {
		out, err := e.channel.Send(ctx, endpoint, body)
		if err == nil {
			res := Result{Kind: KindSuccess, Code: out.Status, Message: "Success", AHEventID: out.AHEventID, Attempts: tries + 1}
			if out.Duplicate() {
				res.Kind = KindDuplicate
			}
			metrics.IncDeliveryResult(e.opts.Handler, string(res.Kind))
			return res
		}

		if ctx.Err() != nil {
			return e.cancelled(code, msg, tries+1, ctx.Err())
		}

		switch {
		case errors.IsInvalidContent(err):
			metrics.IncDeliveryResult(e.opts.Handler, string(KindInvalidContent))
			e.logger.ErrorwCtx(ctx, "Endpoint rejected entry", "endpoint", endpoint, "error", err)
			return Result{Kind: KindInvalidContent, Code: errors.StatusOf(err), Message: errors.MessageOf(err), Attempts: tries + 1}
		case errors.IsUnauthorized(err):
			e.Invalidate(ctx)
			metrics.ReauthTotal.WithLabelValues(e.opts.Handler, "unauthorized").Inc()
		}
		code, msg = errors.StatusOf(err), errors.MessageOf(err)

		tries++
		failures++
		if e.params.Retries > 0 && tries >= e.params.Retries {
			metrics.IncDeliveryResult(e.opts.Handler, string(KindExhausted))
			e.logger.ErrorwCtx(ctx, "Exceeded retry limit",
				"endpoint", endpoint,
				"tries", tries,
				"code", code,
				"error", msg,
			)
			return Result{Kind: KindExhausted, Code: code, Message: "Exceeded retry limit. Error " + msg, Attempts: tries}
		}

		wait := backOff.NextBackOff()
		e.logger.ErrorwCtx(ctx, "Delivery failed, retrying",
			"endpoint", endpoint,
			"tries", tries,
			"code", code,
			"wait_seconds", wait.Seconds(),
			"error", msg,
		)
		metrics.RetryAttemptsTotal.WithLabelValues(e.opts.Handler, "delivery").Inc()
		if err := e.sleep(ctx, wait); err != nil {
			return e.cancelled(code, msg, tries, err)
		}

		if failures >= e.params.FailuresBeforeReauth {
			failures = 0
			e.channel = nil
			e.forceAuth = true
			metrics.ReauthTotal.WithLabelValues(e.opts.Handler, "failure_threshold").Inc()
		}
		e.ensureChannel(ctx)
	}
}

func (e *Engine) cancelled(code int, msg string, attempts int, cause error) Result {
	metrics.IncDeliveryResult(e.opts.Handler, string(KindCancelled))
	m := fmt.Sprintf("Delivery interrupted: %v", cause)
	if msg != "" {
		m = fmt.Sprintf("%s. Last error %s", m, msg)
	}
	return Result{Kind: KindCancelled, Code: code, Message: m, Attempts: attempts}
}
