package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/ShipperBox/internal/auth/tokenstore"
	"github.com/BearBump/ShipperBox/internal/integrations/deliveryapi"
	"github.com/BearBump/ShipperBox/internal/models"
)

var (
	ErrCredentialsRequired = errors.New("username and password are required")
	ErrNoToken             = errors.New("login response carried no token")
	ErrTooManyAttempts     = errors.New("too many login attempts, try again later")
)

// Limiter throttles login attempts per username.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type API interface {
	Login(ctx context.Context, username, password string) (*models.LoginResponse, error)
}

type Service struct {
	api    API
	tokens tokenstore.Store
	logger *slog.Logger

	limiter   Limiter
	perMinute int64
}

func New(api API, tokens tokenstore.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, tokens: tokens, logger: logger}
}

// WithLimiter caps login attempts per username per minute. Limiter failures
// let the attempt through.
func (s *Service) WithLimiter(l Limiter, perMinute int64) *Service {
	if l != nil && perMinute > 0 {
		s.limiter = l
		s.perMinute = perMinute
	}
	return s
}

// Login exchanges credentials for a token and persists it. Blank input is
// rejected without touching the network.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, ErrCredentialsRequired
	}
	if err := s.throttle(ctx, username); err != nil {
		return nil, err
	}

	res, err := s.api.Login(ctx, username, password)
	if err != nil {
		code, _ := deliveryapi.StatusCode(err)
		s.logger.Error("login failed", "username", username, "code", code, "body", deliveryapi.ErrorBody(err))
		return nil, errors.Wrap(err, "login")
	}
	if res.Token == "" {
		return nil, ErrNoToken
	}

	if err := s.tokens.Set(ctx, res.Token); err != nil {
		return nil, errors.Wrap(err, "persist token")
	}
	s.logClaims(res.Token)
	s.logger.Info("logged in", "username", res.User.Username, "role", res.User.Role)
	return &res.User, nil
}

func (s *Service) throttle(ctx context.Context, username string) error {
	if s.limiter == nil {
		return nil
	}
	ok, n, err := s.limiter.Allow(ctx, "login:"+strings.ToLower(username), s.perMinute, time.Minute)
	if err != nil {
		s.logger.Warn("login limiter unavailable", "error", err.Error())
		return nil
	}
	if !ok {
		s.logger.Warn("login throttled", "username", username, "attempts", n)
		return ErrTooManyAttempts
	}
	return nil
}

func (s *Service) Logout(ctx context.Context) error {
	if err := s.tokens.Clear(ctx); err != nil {
		return errors.Wrap(err, "clear token")
	}
	s.logger.Info("logged out")
	return nil
}

func (s *Service) LoggedIn(ctx context.Context) (bool, error) {
	tok, ok, err := s.tokens.Get(ctx)
	if err != nil {
		return false, errors.Wrap(err, "read token")
	}
	return ok && tok != "", nil
}

// logClaims decodes the token without verifying it; the server is the only
// party that holds the key.
func (s *Service) logClaims(raw string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		s.logger.Warn("token is not a readable jwt", "error", err.Error())
		return
	}

	args := []any{}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		args = append(args, "sub", sub)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		args = append(args, "exp", exp.UTC().Format(time.RFC3339))
	}
	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	args = append(args, "claims", keys)
	s.logger.Debug("token claims", args...)
}
