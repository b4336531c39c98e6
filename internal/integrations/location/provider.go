package location

import (
	"context"
	"sync"

	"github.com/BearBump/ShipperBox/internal/models"
)

// Provider reads the device's last known location. ok is false when the
// device has no fix yet.
type Provider interface {
	LastLocation(ctx context.Context) (sample models.LocationSample, ok bool, err error)
}

// Permissions reports whether location access is granted. Request asks the
// host to prompt; the answer arrives later through the host's own callback.
type Permissions interface {
	Granted() bool
	Request()
}

// HostPermissions is a Permissions whose state is driven by the host.
type HostPermissions struct {
	mu        sync.Mutex
	granted   bool
	requested int
	onRequest func()
}

func NewHostPermissions(granted bool) *HostPermissions {
	return &HostPermissions{granted: granted}
}

// OnRequest registers a hook fired on every Request, e.g. to surface a prompt.
func (p *HostPermissions) OnRequest(fn func()) {
	p.mu.Lock()
	p.onRequest = fn
	p.mu.Unlock()
}

func (p *HostPermissions) Granted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted
}

func (p *HostPermissions) Request() {
	p.mu.Lock()
	p.requested++
	fn := p.onRequest
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *HostPermissions) Set(granted bool) {
	p.mu.Lock()
	p.granted = granted
	p.mu.Unlock()
}

// Requests returns how many times a prompt was asked for.
func (p *HostPermissions) Requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requested
}
