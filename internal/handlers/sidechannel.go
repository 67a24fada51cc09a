package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"usagerelay/internal/config"
	"usagerelay/internal/constants"
	"usagerelay/pkg/circuitbreaker"
	"usagerelay/pkg/metrics"
	"usagerelay/pkg/tracing"
)

const sideChannelBodyLimit = 64 << 10

// sideChannel sends the best-effort requests of the stacktach, elasticsearch
// and hub handlers. Nothing is retried; a breaker stops calls to a failing
// endpoint.
type sideChannel struct {
	handler string
	client  *http.Client
	breaker *circuitbreaker.Wrapper
}

type sideResponse struct {
	Status int
	Body   string
}

func newSideChannel(handler string, timeoutSeconds int, cb config.CircuitBreakerConfig) *sideChannel {
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultSideChannelTimeout
	}
	s := &sideChannel{
		handler: handler,
		client:  &http.Client{Timeout: timeout},
	}
	if cb.Enabled {
		s.breaker = circuitbreaker.NewWrapper(circuitbreaker.FromConfig("side-channel-"+handler, cb))
	}
	return s
}

// send returns the response of any completed request. Server errors are
// returned as errors so they count against the breaker.
func (s *sideChannel) send(ctx context.Context, method, url, contentType string, body []byte) (sideResponse, error) {
	var resp sideResponse
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		tracing.InjectHTTP(ctx, req.Header)

		res, err := s.client.Do(req)
		if err != nil {
			metrics.IncSideChannelRequest(s.handler, 0)
			return err
		}
		defer res.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(res.Body, sideChannelBodyLimit))

		resp = sideResponse{Status: res.StatusCode, Body: string(text)}
		metrics.IncSideChannelRequest(s.handler, res.StatusCode)
		if res.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%s %s returned %d", method, url, res.StatusCode)
		}
		return nil
	}

	if s.breaker == nil {
		return resp, call()
	}
	return resp, s.breaker.Do(ctx, call)
}
