package nmeagps

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/pkg/errors"
	"github.com/tarm/serial"

	"github.com/BearBump/ShipperBox/internal/models"
)

const defaultMaxLines = 64

// Provider reads NMEA 0183 sentences from a GPS receiver. With a positive baud
// rate the device is opened as a serial port, otherwise as a plain file
// (useful for recorded traces and pseudo-terminals).
type Provider struct {
	device   string
	baud     int
	maxLines int
	logger   *slog.Logger
	now      func() time.Time
	open     func() (io.ReadCloser, error)
}

func New(device string, baud int, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		device:   device,
		baud:     baud,
		maxLines: defaultMaxLines,
		logger:   logger,
		now:      time.Now,
	}
	p.open = p.openDevice
	return p
}

// WithMaxLines bounds how many lines one read may consume looking for a fix.
func (p *Provider) WithMaxLines(n int) *Provider {
	if n > 0 {
		p.maxLines = n
	}
	return p
}

func (p *Provider) openDevice() (io.ReadCloser, error) {
	if p.baud > 0 {
		return serial.OpenPort(&serial.Config{Name: p.device, Baud: p.baud, ReadTimeout: 2 * time.Second})
	}
	return os.Open(p.device)
}

func (p *Provider) LastLocation(ctx context.Context) (models.LocationSample, bool, error) {
	rc, err := p.open()
	if err != nil {
		return models.LocationSample{}, false, errors.Wrap(err, "open gps device")
	}
	defer rc.Close()

	return p.readFix(ctx, rc)
}

// readFix returns the first valid GGA or RMC fix in r.
func (p *Provider) readFix(ctx context.Context, r io.Reader) (models.LocationSample, bool, error) {
	sc := bufio.NewScanner(r)
	for lines := 0; lines < p.maxLines && sc.Scan(); lines++ {
		if err := ctx.Err(); err != nil {
			return models.LocationSample{}, false, err
		}

		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		s, err := nmea.Parse(line)
		if err != nil {
			// receivers emit partial sentences while warming up
			p.logger.Debug("skip nmea sentence", "line", line, "error", err.Error())
			continue
		}

		switch v := s.(type) {
		case nmea.GGA:
			if v.FixQuality == nmea.Invalid {
				continue
			}
			return models.LocationSample{
				Latitude:  v.Latitude,
				Longitude: v.Longitude,
				Accuracy:  v.HDOP,
				SampledAt: p.now().UTC(),
			}, true, nil
		case nmea.RMC:
			if v.Validity != nmea.ValidRMC {
				continue
			}
			return models.LocationSample{
				Latitude:  v.Latitude,
				Longitude: v.Longitude,
				SampledAt: p.now().UTC(),
			}, true, nil
		}
	}
	if err := sc.Err(); err != nil {
		return models.LocationSample{}, false, errors.Wrap(err, "read gps device")
	}
	return models.LocationSample{}, false, nil
}
