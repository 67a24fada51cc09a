package auth

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"usagerelay/internal/config"
	"usagerelay/internal/constants"
	"usagerelay/internal/logger"
	"usagerelay/pkg/errors"
	"usagerelay/pkg/metrics"
)

const (
	MethodNone      = "no_auth"
	MethodBasic     = "http_basic_auth"
	MethodRax       = "rax_auth"
	MethodRaxAPIKey = "rax_auth_v2"

	TokenHeader = "X-Auth-Token"
	userAgent   = "Yagi"
)

// Strategy decorates outbound request headers with credentials.
type Strategy interface {
	Name() string
	// Apply writes credentials into h. With force set, token strategies fetch a
	// fresh token instead of reusing the cached one.
	Apply(ctx context.Context, h http.Header, force bool) error
}

// Invalidator is implemented by strategies that cache credentials which an
// endpoint can reject.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type NoAuth struct{}

func (NoAuth) Name() string { return MethodNone }

func (NoAuth) Apply(context.Context, http.Header, bool) error { return nil }

// Basic sends static credentials as HTTP Basic auth.
type Basic struct {
	User string
	Key  string
}

func (Basic) Name() string { return MethodBasic }

func (b Basic) Apply(_ context.Context, h http.Header, _ bool) error {
	if b.User == "" || b.Key == "" {
		return nil
	}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(b.User+":"+b.Key)))
	return nil
}

// BodyBuilder renders the credentials document posted to the auth server.
type BodyBuilder func(user, key string) map[string]interface{}

func PasswordCredentials(user, key string) map[string]interface{} {
	return map[string]interface{}{
		"auth": map[string]interface{}{
			"passwordCredentials": map[string]interface{}{
				"username": user,
				"password": key,
			},
		},
	}
}

func APIKeyCredentials(user, key string) map[string]interface{} {
	return map[string]interface{}{
		"auth": map[string]interface{}{
			"RAX-KSKEY:apiKeyCredentials": map[string]interface{}{
				"username": user,
				"apiKey":   key,
			},
		},
	}
}

// Token fetches a bearer token from an identity endpoint and caches it in a
// TokenStore. Concurrent refreshes collapse into one request.
type Token struct {
	method string
	server string
	user   string
	key    string
	body   BodyBuilder
	client *http.Client
	store  TokenStore
	group  singleflight.Group
	logger logger.Logger
}

func NewToken(method string, cfg config.HandlerAuthConfig, body BodyBuilder, store TokenStore, log logger.Logger) *Token {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	return &Token{
		method: method,
		server: cfg.AuthServer,
		user:   cfg.User,
		key:    cfg.Key,
		body:   body,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.ValidateSSL},
			},
		},
		store:  store,
		logger: log,
	}
}

func (t *Token) Name() string { return t.method }

func (t *Token) Apply(ctx context.Context, h http.Header, force bool) error {
	token, err := t.Token(ctx, force)
	if err != nil {
		return err
	}
	h.Set(TokenHeader, token)
	return nil
}

// Invalidate drops the cached token so every channel sharing the store refetches.
func (t *Token) Invalidate(ctx context.Context) error {
	return t.store.Invalidate(ctx)
}

// Token returns the cached token, or fetches one when forced or when none is cached.
func (t *Token) Token(ctx context.Context, force bool) (string, error) {
	if !force {
		token, ok, err := t.store.Get(ctx)
		if err != nil {
			t.logger.WarnwCtx(ctx, "Token store read failed, fetching a new token", "error", err)
		} else if ok {
			return token, nil
		}
	}

	v, err, shared := t.group.Do("token", func() (interface{}, error) {
		token, err := t.fetch(ctx)
		if err != nil {
			return "", err
		}
		if err := t.store.Set(ctx, token); err != nil {
			t.logger.WarnwCtx(ctx, "Token store write failed", "error", err)
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		t.logger.DebugwCtx(ctx, "Token refresh shared with a concurrent caller")
	}
	return v.(string), nil
}

type tokenResponse struct {
	Access struct {
		Token struct {
			ID string `json:"id"`
		} `json:"token"`
	} `json:"access"`
}

func (t *Token) fetch(ctx context.Context) (string, error) {
	payload, err := json.Marshal(t.body(t.user, t.key))
	if err != nil {
		return "", errors.ErrAuthFailed.WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.server, bytes.NewReader(payload))
	if err != nil {
		return "", errors.ErrAuthFailed.WithCause(err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	t.logger.InfowCtx(ctx, "Contacting auth server", "auth_server", t.server, "method", t.method)

	resp, err := t.client.Do(req)
	if err != nil {
		metrics.AuthTokenRequestsTotal.WithLabelValues(t.method, "error").Inc()
		return "", errors.ErrAuthFailed.WithCause(err)
	}
	defer resp.Body.Close()

	metrics.AuthTokenRequestsTotal.WithLabelValues(t.method, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", errors.ErrAuthFailed.
			WithMessage("authentication failed with HTTP status %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.ErrAuthFailed.WithCause(fmt.Errorf("failed to decode token response: %w", err))
	}
	if body.Access.Token.ID == "" {
		return "", errors.ErrAuthFailed.WithMessage("token response carries no access.token.id")
	}

	t.logger.InfowCtx(ctx, "Token received", "method", t.method)
	return body.Access.Token.ID, nil
}

// New resolves the configured strategy. An unknown method is a configuration defect.
func New(cfg config.HandlerAuthConfig, store TokenStore, log logger.Logger) (Strategy, error) {
	switch cfg.Method {
	case MethodNone, "":
		return NoAuth{}, nil
	case MethodBasic:
		return Basic{User: cfg.User, Key: cfg.Key}, nil
	case MethodRax:
		return NewToken(cfg.Method, cfg, PasswordCredentials, storeOrMemory(store), log), nil
	case MethodRaxAPIKey:
		return NewToken(cfg.Method, cfg, APIKeyCredentials, storeOrMemory(store), log), nil
	default:
		return nil, errors.ErrConfig.WithMessage("invalid auth method %q", cfg.Method).AsFatal()
	}
}

func storeOrMemory(store TokenStore) TokenStore {
	if store == nil {
		return NewMemoryTokenStore(0)
	}
	return store
}
