package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/BearBump/ShipperBox/config"
	"github.com/BearBump/ShipperBox/internal/auth/tokenstore"
	"github.com/BearBump/ShipperBox/internal/broker/kafka"
	"github.com/BearBump/ShipperBox/internal/cache"
	"github.com/BearBump/ShipperBox/internal/cache/rediscache"
	"github.com/BearBump/ShipperBox/internal/integrations/deliveryapi"
	"github.com/BearBump/ShipperBox/internal/integrations/location"
	"github.com/BearBump/ShipperBox/internal/integrations/location/fake"
	"github.com/BearBump/ShipperBox/internal/integrations/location/nmeagps"
	"github.com/BearBump/ShipperBox/internal/services/checkin"
	"github.com/BearBump/ShipperBox/internal/services/looper"
	"github.com/BearBump/ShipperBox/internal/services/notify"
	"github.com/BearBump/ShipperBox/internal/services/orderdetail"
	"github.com/BearBump/ShipperBox/internal/services/orders"
	"github.com/BearBump/ShipperBox/internal/services/session"
)

type agentFactories struct {
	newTokenStore func(cfg *config.Config) (store tokenstore.Store, closeFn func(), err error)
	newOrderCache func(cfg *config.Config) (c cache.BytesCache, closeFn func())
	newLimiter    func(cfg *config.Config) (l session.Limiter, closeFn func())
	newPublisher  func(cfg *config.Config) (p checkin.Publisher, closeFn func())
	newLocation   func(cfg *config.Config, logger *slog.Logger) location.Provider
	newClock      func() looper.Clock
}

func defaultAgentFactories() agentFactories {
	return agentFactories{
		newTokenStore: func(cfg *config.Config) (tokenstore.Store, func(), error) {
			switch cfg.TokenStore.Backend {
			case "redis":
				s := rediscache.NewTokenStore(redisAddr(cfg), cfg.TokenStore.Namespace)
				return s, func() { _ = s.Close() }, nil
			case "", "file":
				dir := cfg.TokenStore.Dir
				if dir == "" {
					dir = filepath.Join(".", "data")
				}
				return tokenstore.NewFileStore(dir, cfg.TokenStore.Namespace), nil, nil
			default:
				return nil, nil, fmt.Errorf("unknown token store backend %q", cfg.TokenStore.Backend)
			}
		},
		newOrderCache: func(cfg *config.Config) (cache.BytesCache, func()) {
			if cfg.Redis.Host == "" {
				return nil, nil
			}
			rc := rediscache.New(redisAddr(cfg))
			return rc, func() { _ = rc.Close() }
		},
		newLimiter: func(cfg *config.Config) (session.Limiter, func()) {
			if cfg.Redis.Host == "" {
				return nil, nil
			}
			rl := rediscache.NewRateLimiter(redisAddr(cfg))
			return rl, func() { _ = rl.Close() }
		},
		newPublisher: func(cfg *config.Config) (checkin.Publisher, func()) {
			if cfg.Kafka.Host == "" {
				return nil, nil
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			p := kafka.NewProducer(brokers)
			return p, func() { _ = p.Close() }
		},
		newLocation: func(cfg *config.Config, logger *slog.Logger) location.Provider {
			if cfg.Shipper.LocationSource == "nmea" && cfg.Shipper.NMEAPath != "" {
				return nmeagps.New(cfg.Shipper.NMEAPath, cfg.Shipper.NMEABaudRate, logger)
			}
			lat, lng := cfg.Shipper.FakeStartLat, cfg.Shipper.FakeStartLng
			if lat == 0 && lng == 0 {
				lat, lng = 10.7769, 106.7009
			}
			return fake.New(lat, lng)
		},
		newClock: looper.RealClock,
	}
}

func redisAddr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
}

// agent owns the long-lived services and one detail controller per opened
// order.
type agent struct {
	logger *slog.Logger
	loop   *looper.Looper

	client    *deliveryapi.Client
	session   *session.Service
	orders    *orders.Service
	submitter *checkin.Submitter
	perms     *location.HostPermissions
	provider  location.Provider
	events    *notify.Recorder
	notifier  notify.Notifier

	trackingInterval time.Duration

	mu          sync.Mutex
	controllers map[int]*orderdetail.Controller

	closers []func()
}

func newAgent(cfg *config.Config, f agentFactories, logger *slog.Logger) (*agent, error) {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := time.Duration(cfg.API.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	trackingInterval := time.Duration(cfg.Shipper.TrackingIntervalSeconds) * time.Second
	if trackingInterval <= 0 {
		trackingInterval = 2 * time.Minute
	}
	orderTTL := time.Duration(cfg.Redis.OrderCacheTTLSeconds) * time.Second
	if orderTTL <= 0 {
		orderTTL = 30 * time.Second
	}
	loginPerMin := int64(cfg.Shipper.LoginAttemptsPerMinute)
	if loginPerMin <= 0 {
		loginPerMin = 5
	}
	topic := cfg.Kafka.CheckpointTopicName
	if topic == "" {
		topic = "shipper.checkpoints"
	}

	a := &agent{
		logger:           logger,
		loop:             looper.New(f.newClock()),
		perms:            location.NewHostPermissions(cfg.Shipper.LocationPermissionGranted),
		events:           notify.NewRecorder(200),
		trackingInterval: trackingInterval,
		controllers:      map[int]*orderdetail.Controller{},
	}
	a.notifier = notify.Multi(notify.Log{Logger: logger}, a.events)
	a.perms.OnRequest(func() {
		a.notifier.Notify(notify.Event{At: time.Now().UTC(), Kind: notify.KindPermission, Message: "location permission requested"})
	})

	tokens, closeTokens, err := f.newTokenStore(cfg)
	if err != nil {
		return nil, err
	}
	a.addCloser(closeTokens)

	orderCache, closeCache := f.newOrderCache(cfg)
	a.addCloser(closeCache)
	limiter, closeLimiter := f.newLimiter(cfg)
	a.addCloser(closeLimiter)
	pub, closePub := f.newPublisher(cfg)
	a.addCloser(closePub)

	a.client = deliveryapi.New(cfg.API.BaseURL, tokens, logger, timeout)
	a.session = session.New(a.client, tokens, logger).WithLimiter(limiter, loginPerMin)
	a.orders = orders.New(a.client, orderCache, orderTTL, logger)
	a.submitter = checkin.New(a.client, logger).WithTelemetry(pub, topic)
	a.provider = f.newLocation(cfg, logger)
	return a, nil
}

func (a *agent) addCloser(fn func()) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

func (a *agent) Close() {
	a.mu.Lock()
	for _, c := range a.controllers {
		c.Detach()
	}
	a.controllers = map[int]*orderdetail.Controller{}
	a.mu.Unlock()

	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// controller returns the detail controller for orderID. created is true when
// the caller must attach it.
func (a *agent) controller(orderID int) (c *orderdetail.Controller, created bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.controllers[orderID]; ok {
		return c, false
	}
	c = orderdetail.New(orderID, orderdetail.Deps{
		Loop:             a.loop,
		API:              a.client,
		Orders:           a.orders,
		CheckIn:          a.submitter,
		Provider:         a.provider,
		Permissions:      a.perms,
		Notifier:         a.notifier,
		Logger:           a.logger,
		TrackingInterval: a.trackingInterval,
	})
	a.controllers[orderID] = c
	return c, true
}

// release detaches and forgets orderID. It reports whether it was open.
func (a *agent) release(orderID int) bool {
	a.mu.Lock()
	c, ok := a.controllers[orderID]
	delete(a.controllers, orderID)
	a.mu.Unlock()
	if ok {
		c.Detach()
	}
	return ok
}

func (a *agent) openOrders() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, 0, len(a.controllers))
	for id := range a.controllers {
		out = append(out, id)
	}
	return out
}

// setPermission records the host's answer and relays it to every open order.
func (a *agent) setPermission(granted bool) {
	a.perms.Set(granted)

	a.mu.Lock()
	cs := make([]*orderdetail.Controller, 0, len(a.controllers))
	for _, c := range a.controllers {
		cs = append(cs, c)
	}
	a.mu.Unlock()

	for _, c := range cs {
		c.OnPermissionResult(granted)
	}
}

type agentOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)
}

func RunShipperAgent(ctx context.Context, cfg *config.Config, f agentFactories, logger *slog.Logger, opts agentOpts) error {
	a, err := newAgent(cfg, f, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.httpAddr == "" {
		opts.httpAddr = cfg.Shipper.ControlHTTPAddr
	}
	if opts.swaggerPath == "" {
		opts.swaggerPath = cfg.Shipper.SwaggerPath
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	loopDone := make(chan error, 1)
	go func() { loopDone <- a.loop.Run(loopCtx) }()

	err = runControlHTTPServer(ctx, a, opts)
	stopLoop()
	<-loopDone
	return err
}
