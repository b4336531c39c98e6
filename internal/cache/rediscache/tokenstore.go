package rediscache

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/BearBump/ShipperBox/internal/auth/tokenstore"
)

// TokenStore keeps the bearer token in Redis without expiry.
type TokenStore struct {
	c   *redis.Client
	key string
}

func NewTokenStore(addr, namespace string) *TokenStore {
	return NewTokenStoreWithClient(redis.NewClient(&redis.Options{Addr: addr}), namespace)
}

func NewTokenStoreWithClient(c *redis.Client, namespace string) *TokenStore {
	if namespace == "" {
		namespace = tokenstore.DefaultNamespace
	}
	return &TokenStore{c: c, key: namespace + ":" + tokenstore.TokenKey}
}

func (s *TokenStore) Set(ctx context.Context, token string) error {
	if err := s.c.Set(ctx, s.key, token, 0).Err(); err != nil {
		return errors.Wrap(err, "redis token set")
	}
	return nil
}

func (s *TokenStore) Get(ctx context.Context) (string, bool, error) {
	tok, err := s.c.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "redis token get")
	}
	return tok, true, nil
}

func (s *TokenStore) Clear(ctx context.Context) error {
	if err := s.c.Del(ctx, s.key).Err(); err != nil {
		return errors.Wrap(err, "redis token clear")
	}
	return nil
}

func (s *TokenStore) Close() error {
	return s.c.Close()
}

var _ tokenstore.Store = (*TokenStore)(nil)
