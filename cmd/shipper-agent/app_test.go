package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/ShipperBox/config"
	"github.com/BearBump/ShipperBox/internal/auth/tokenstore"
	"github.com/BearBump/ShipperBox/internal/broker/kafka"
	"github.com/BearBump/ShipperBox/internal/cache/rediscache"
	"github.com/BearBump/ShipperBox/internal/integrations/location/fake"
	"github.com/BearBump/ShipperBox/internal/integrations/location/nmeagps"
)

func TestDefaultAgentFactories_TokenStore(t *testing.T) {
	f := defaultAgentFactories()

	s, closeFn, err := f.newTokenStore(&config.Config{TokenStore: config.TokenStoreConfig{Dir: t.TempDir()}})
	require.NoError(t, err)
	require.Nil(t, closeFn)
	_, ok := s.(*tokenstore.FileStore)
	require.True(t, ok)

	mr := miniredis.RunT(t)
	cfg := &config.Config{
		TokenStore: config.TokenStoreConfig{Backend: "redis", Namespace: "courier"},
		Redis:      config.RedisConfig{Host: mr.Host(), Port: mustPort(t, mr)},
	}
	s, closeFn, err = f.newTokenStore(cfg)
	require.NoError(t, err)
	_, ok = s.(*rediscache.TokenStore)
	require.True(t, ok)
	require.NoError(t, s.Set(context.Background(), "tok"))
	require.True(t, mr.Exists("courier:jwt_token"))
	closeFn()

	_, _, err = f.newTokenStore(&config.Config{TokenStore: config.TokenStoreConfig{Backend: "sqlite"}})
	require.Error(t, err)
}

func TestDefaultAgentFactories_OptionalDeps(t *testing.T) {
	f := defaultAgentFactories()

	empty := &config.Config{}
	c, closeFn := f.newOrderCache(empty)
	require.Nil(t, c)
	require.Nil(t, closeFn)
	l, _ := f.newLimiter(empty)
	require.Nil(t, l)
	p, _ := f.newPublisher(empty)
	require.Nil(t, p)

	full := &config.Config{
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
	}
	c, closeFn = f.newOrderCache(full)
	require.IsType(t, &rediscache.RedisCache{}, c)
	closeFn()
	l, closeFn = f.newLimiter(full)
	require.IsType(t, &rediscache.RateLimiter{}, l)
	closeFn()
	p, closeFn = f.newPublisher(full)
	require.IsType(t, &kafka.Producer{}, p)
	closeFn()
}

func TestDefaultAgentFactories_Location(t *testing.T) {
	f := defaultAgentFactories()
	logger := slog.Default()

	nmea := f.newLocation(&config.Config{Shipper: config.ShipperConfig{LocationSource: "nmea", NMEAPath: "/dev/ttyUSB0", NMEABaudRate: 9600}}, logger)
	require.IsType(t, &nmeagps.Provider{}, nmea)

	def := f.newLocation(&config.Config{}, logger)
	require.IsType(t, &fake.Provider{}, def)
	s, ok, err := def.LastLocation(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 10.7769, s.Latitude, 1e-9)
}

func TestRunShipperAgent_ContextCanceled(t *testing.T) {
	cfg := &config.Config{
		TokenStore: config.TokenStoreConfig{Dir: t.TempDir()},
		Shipper:    config.ShipperConfig{ControlHTTPAddr: "127.0.0.1:0"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	listening := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- RunShipperAgent(ctx, cfg, defaultAgentFactories(), nil, agentOpts{
			onListen: func(addr string) { listening <- addr },
		})
	}()

	select {
	case addr := <-listening:
		require.NotEmpty(t, addr)
	case <-time.After(2 * time.Second):
		t.Fatal("agent never listened")
	}
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestRunShipperAgent_BadTokenBackend(t *testing.T) {
	cfg := &config.Config{TokenStore: config.TokenStoreConfig{Backend: "nope"}}
	err := RunShipperAgent(context.Background(), cfg, defaultAgentFactories(), nil, agentOpts{})
	require.Error(t, err)
}

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()
	require.True(t, newLogger("debug").Enabled(ctx, slog.LevelDebug))
	require.False(t, newLogger("").Enabled(ctx, slog.LevelDebug))
	require.False(t, newLogger("error").Enabled(ctx, slog.LevelWarn))
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	var port int
	_, err := fmt.Sscanf(mr.Port(), "%d", &port)
	require.NoError(t, err)
	return port
}

func TestRunShipperAgent_ControlServerFailureStopsAgent(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cases := map[string]agentOpts{
		"address in use":  {httpAddr: busy.Addr().String()},
		"missing swagger": {httpAddr: "127.0.0.1:0", swaggerPath: "/nope/swagger.json"},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := &config.Config{TokenStore: config.TokenStoreConfig{Dir: t.TempDir()}}

			errCh := make(chan error, 1)
			go func() {
				errCh <- RunShipperAgent(context.Background(), cfg, defaultAgentFactories(), nil, opts)
			}()

			select {
			case err := <-errCh:
				require.Error(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("agent kept running after the control server failed")
			}
		})
	}
}
