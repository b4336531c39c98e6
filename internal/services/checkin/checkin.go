package checkin

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipperBox/internal/broker/messages"
	"github.com/BearBump/ShipperBox/internal/integrations/deliveryapi"
	"github.com/BearBump/ShipperBox/internal/models"
)

var (
	ErrCoordinatesRequired = errors.New("latitude and longitude are required")
	ErrInvalidCoordinates  = errors.New("latitude and longitude must be numbers")
)

type API interface {
	CheckIn(ctx context.Context, req models.CheckInRequest) (*models.LocationCheckpoint, error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

// Submitter posts location checkpoints for an order. A failed submission is
// returned to the caller and never retried or queued.
type Submitter struct {
	api    API
	logger *slog.Logger

	pub   Publisher
	topic string
	now   func() time.Time

	submitted atomic.Int64
	failed    atomic.Int64
}

func New(api API, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{api: api, logger: logger, now: time.Now}
}

// WithTelemetry publishes a CheckpointSubmitted message after every confirmed
// check-in. Publishing is best effort.
func (s *Submitter) WithTelemetry(pub Publisher, topic string) *Submitter {
	if pub != nil && topic != "" {
		s.pub = pub
		s.topic = topic
	}
	return s
}

func (s *Submitter) Submit(ctx context.Context, orderID int, lat, lng float64, note string) (*models.LocationCheckpoint, error) {
	return s.SubmitAs(ctx, messages.SourceManual, orderID, lat, lng, note)
}

// SubmitAs is Submit with the telemetry source tag set explicitly.
func (s *Submitter) SubmitAs(ctx context.Context, source string, orderID int, lat, lng float64, note string) (*models.LocationCheckpoint, error) {
	cp, err := s.api.CheckIn(ctx, models.CheckInRequest{
		OrderID:   orderID,
		Latitude:  lat,
		Longitude: lng,
		Notes:     note,
	})
	if err != nil {
		s.failed.Add(1)
		code, _ := deliveryapi.StatusCode(err)
		s.logger.Error("check-in failed",
			"order_id", orderID,
			"source", source,
			"code", code,
			"body", deliveryapi.ErrorBody(err),
			"error", err.Error(),
		)
		return nil, errors.Wrap(err, "check in")
	}
	s.submitted.Add(1)
	s.logger.Info("check-in confirmed", "order_id", orderID, "checkpoint_id", cp.CheckpointID, "source", source)

	s.publish(ctx, source, cp)
	return cp, nil
}

func (s *Submitter) publish(ctx context.Context, source string, cp *models.LocationCheckpoint) {
	if s.pub == nil {
		return
	}
	at := cp.CheckInTime
	if at.IsZero() {
		at = s.now()
	}
	msg := messages.CheckpointSubmitted{
		OrderID:      cp.OrderID,
		CheckpointID: cp.CheckpointID,
		Latitude:     cp.Latitude,
		Longitude:    cp.Longitude,
		Notes:        cp.Notes,
		Source:       source,
		SubmittedAt:  at.UTC(),
	}
	if err := s.pub.PublishJSON(ctx, s.topic, strconv.Itoa(cp.OrderID), msg); err != nil {
		s.logger.Warn("publish checkpoint", "order_id", cp.OrderID, "error", err.Error())
	}
}

type Stats struct {
	Submitted int64 `json:"submitted"`
	Failed    int64 `json:"failed"`
}

func (s *Submitter) Stats() Stats {
	return Stats{Submitted: s.submitted.Load(), Failed: s.failed.Load()}
}

// ResolveCoordinates prefers the sampler's cached sample and falls back to
// manually entered text.
func ResolveCoordinates(current *models.LocationSample, latText, lngText string) (float64, float64, error) {
	if current != nil {
		return current.Latitude, current.Longitude, nil
	}

	latText, lngText = strings.TrimSpace(latText), strings.TrimSpace(lngText)
	if latText == "" || lngText == "" {
		return 0, 0, ErrCoordinatesRequired
	}
	lat, err := parseCoordinate(latText)
	if err != nil {
		return 0, 0, err
	}
	lng, err := parseCoordinate(lngText)
	if err != nil {
		return 0, 0, err
	}
	return lat, lng, nil
}

func parseCoordinate(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.Wrapf(ErrInvalidCoordinates, "parse %q", v)
	}
	return f, nil
}
