package deliveryapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// TokenReader is the read side of the token store.
type TokenReader interface {
	Get(ctx context.Context) (string, bool, error)
}

// AuthTransport attaches "Authorization: Bearer <token>" when the store holds
// a non-empty token at call time. It never retries and never touches the
// store, so a 401 leaves the token where it is.
type AuthTransport struct {
	Base   http.RoundTripper
	Tokens TokenReader
	Logger *slog.Logger
}

func NewAuthTransport(base http.RoundTripper, tokens TokenReader, logger *slog.Logger) *AuthTransport {
	return &AuthTransport{Base: base, Tokens: tokens, Logger: logger}
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Tokens == nil {
		return base.RoundTrip(req)
	}

	tok, ok, err := t.Tokens.Get(req.Context())
	if err != nil {
		logger(t.Logger).Warn("token store read failed, sending request without auth",
			"path", req.URL.Path, "error", err.Error())
		return base.RoundTrip(req)
	}
	if !ok || tok == "" {
		return base.RoundTrip(req)
	}

	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", "Bearer "+tok)
	return base.RoundTrip(authed)
}

// loggingTransport logs every exchange with a correlation id. The id stays in
// the logs; it is not sent to the server.
type loggingTransport struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	id := uuid.NewString()
	start := time.Now()

	resp, err := base.RoundTrip(req)
	l := logger(t.logger).With(
		"request_id", id,
		"method", req.Method,
		"path", req.URL.Path,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if err != nil {
		l.Warn("http request failed", "error", err.Error())
		return nil, err
	}
	l.Debug("http request", "status", resp.StatusCode)
	return resp, nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
