package sampler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipperBox/internal/integrations/location"
	"github.com/BearBump/ShipperBox/internal/models"
	"github.com/BearBump/ShipperBox/internal/services/looper"
	"github.com/pkg/errors"
)

const DefaultInterval = 2 * time.Minute

var ErrNoLocation = errors.New("no location available")

// Handler receives every sample taken by a recurring firing. It runs on the
// loop goroutine.
type Handler func(models.LocationSample)

// Sampler periodically reads the device location while enabled. Start, Stop,
// Resume and the accessors must be called on the loop goroutine; Stats is
// safe from anywhere.
type Sampler struct {
	loop     *looper.Looper
	provider location.Provider
	perms    location.Permissions
	logger   *slog.Logger
	handler  Handler

	interval    time.Duration
	readTimeout time.Duration

	enabled    bool
	pending    looper.Handle
	hasPending bool
	reading    bool
	current    *models.LocationSample
	gen        uint64

	firings        atomic.Int64
	samples        atomic.Int64
	failures       atomic.Int64
	permissionAsks atomic.Int64
	lastSampleNano atomic.Int64
	lastErrorMu    sync.Mutex
	lastError      string
}

func New(loop *looper.Looper, provider location.Provider, perms location.Permissions, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		loop:        loop,
		provider:    provider,
		perms:       perms,
		logger:      logger,
		interval:    DefaultInterval,
		readTimeout: 30 * time.Second,
	}
}

func (s *Sampler) WithSettings(interval, readTimeout time.Duration) *Sampler {
	if interval > 0 {
		s.interval = interval
	}
	if readTimeout > 0 {
		s.readTimeout = readTimeout
	}
	return s
}

func (s *Sampler) WithHandler(h Handler) *Sampler {
	s.handler = h
	return s
}

func (s *Sampler) Interval() time.Duration { return s.interval }

// Start enables sampling. Without a permission grant it only asks for one;
// Resume picks up once the host reports the grant.
func (s *Sampler) Start() {
	s.enabled = true
	s.gen++
	s.reading = false
	s.cancelPending()

	if !s.perms.Granted() {
		s.requestPermission()
		return
	}

	s.prime()
	s.schedule(0)
}

// Stop disables sampling and cancels the next firing. In-flight reads finish
// but their results are dropped.
func (s *Sampler) Stop() {
	s.enabled = false
	s.gen++
	s.reading = false
	s.cancelPending()
}

// Resume restarts a sampler that was waiting on a permission grant. It does
// nothing while a firing is queued or its read is still running.
func (s *Sampler) Resume() {
	if !s.enabled || s.hasPending || s.reading {
		return
	}
	s.Start()
}

// Current returns the last successful sample, if any.
func (s *Sampler) Current() (models.LocationSample, bool) {
	if s.current == nil {
		return models.LocationSample{}, false
	}
	return *s.current, true
}

func (s *Sampler) Enabled() bool { return s.enabled }

// Pending reports whether a firing is scheduled.
func (s *Sampler) Pending() bool { return s.hasPending }

// Fetch performs a one-off read outside the recurring schedule and delivers
// the result on the loop. A successful read also refreshes Current.
func (s *Sampler) Fetch(done func(models.LocationSample, error)) {
	looper.Go(s.loop, context.Background(), s.read, func(sample models.LocationSample, err error) {
		if err == nil {
			s.remember(sample)
		}
		done(sample, err)
	})
}

func (s *Sampler) prime() {
	gen := s.gen
	looper.Go(s.loop, context.Background(), s.read, func(sample models.LocationSample, err error) {
		if err != nil {
			s.logger.Debug("priming sample unavailable", "error", err.Error())
			return
		}
		if gen == s.gen {
			s.remember(sample)
		}
	})
}

func (s *Sampler) schedule(d time.Duration) {
	gen := s.gen
	s.pending = s.loop.PostDelayed(d, func() { s.fire(gen) })
	s.hasPending = true
}

func (s *Sampler) cancelPending() {
	if !s.hasPending {
		return
	}
	s.loop.Cancel(s.pending)
	s.hasPending = false
}

func (s *Sampler) fire(gen uint64) {
	s.hasPending = false
	if gen != s.gen || !s.enabled {
		return
	}
	s.firings.Add(1)

	if !s.perms.Granted() {
		s.requestPermission()
		return
	}

	s.reading = true
	looper.Go(s.loop, context.Background(), s.read, func(sample models.LocationSample, err error) {
		if gen != s.gen || !s.enabled {
			s.logger.Debug("drop stale sample", "error", errString(err))
			return
		}
		s.reading = false

		if err != nil {
			s.failures.Add(1)
			s.setLastError(err)
			s.logger.Warn("location sample failed", "error", err.Error())
		} else {
			s.remember(sample)
			if s.handler != nil {
				s.handler(sample)
			}
		}

		if !s.hasPending {
			s.schedule(s.interval)
		}
	})
}

func (s *Sampler) read(ctx context.Context) (models.LocationSample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	sample, ok, err := s.provider.LastLocation(ctx)
	if err != nil {
		return models.LocationSample{}, errors.Wrap(err, "read last location")
	}
	if !ok {
		return models.LocationSample{}, ErrNoLocation
	}
	if sample.SampledAt.IsZero() {
		sample.SampledAt = s.loop.Clock().Now().UTC()
	}
	return sample, nil
}

func (s *Sampler) remember(sample models.LocationSample) {
	s.current = &sample
	s.samples.Add(1)
	s.lastSampleNano.Store(sample.SampledAt.UnixNano())
}

func (s *Sampler) requestPermission() {
	s.permissionAsks.Add(1)
	s.logger.Info("location permission required")
	s.perms.Request()
}

func (s *Sampler) setLastError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type Stats struct {
	Firings            int64      `json:"firings"`
	Samples            int64      `json:"samples"`
	Failures           int64      `json:"failures"`
	PermissionRequests int64      `json:"permissionRequests"`
	LastSampleAt       *time.Time `json:"lastSampleAt,omitempty"`
	LastError          string     `json:"lastError,omitempty"`
}

func (s *Sampler) Stats() Stats {
	st := Stats{
		Firings:            s.firings.Load(),
		Samples:            s.samples.Load(),
		Failures:           s.failures.Load(),
		PermissionRequests: s.permissionAsks.Load(),
	}
	if n := s.lastSampleNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSampleAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}
