package fake

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/ShipperBox/internal/models"
)

// Provider walks north-east from a start point by a fixed step on every read,
// so consecutive samples are distinguishable without a GPS device.
type Provider struct {
	mu    sync.Mutex
	lat   float64
	lng   float64
	step  float64
	reads int
	now   func() time.Time
}

func New(startLat, startLng float64) *Provider {
	return &Provider{
		lat:  startLat,
		lng:  startLng,
		step: 0.0005,
		now:  time.Now,
	}
}

func (p *Provider) LastLocation(ctx context.Context) (models.LocationSample, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.LocationSample{}, false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	offset := p.step * float64(p.reads)
	p.reads++
	return models.LocationSample{
		Latitude:  p.lat + offset,
		Longitude: p.lng + offset,
		Accuracy:  5,
		SampledAt: p.now().UTC(),
	}, true, nil
}

func (p *Provider) Reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}
