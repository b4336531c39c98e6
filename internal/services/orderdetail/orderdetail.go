package orderdetail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ShipperBox/internal/broker/messages"
	"github.com/BearBump/ShipperBox/internal/integrations/deliveryapi"
	"github.com/BearBump/ShipperBox/internal/integrations/location"
	"github.com/BearBump/ShipperBox/internal/models"
	"github.com/BearBump/ShipperBox/internal/services/checkin"
	"github.com/BearBump/ShipperBox/internal/services/looper"
	"github.com/BearBump/ShipperBox/internal/services/notify"
	"github.com/BearBump/ShipperBox/internal/services/sampler"
	"github.com/BearBump/ShipperBox/internal/services/statusflow"
)

const TrackingNote = "Auto tracking check-in"

type Orders interface {
	GetOrder(ctx context.Context, orderID int) (*models.Order, error)
	Remember(ctx context.Context, o *models.Order)
}

type Deps struct {
	Loop        *looper.Looper
	API         statusflow.API
	Orders      Orders
	CheckIn     statusflow.CheckIn
	Provider    location.Provider
	Permissions location.Permissions
	Notifier    notify.Notifier
	Logger      *slog.Logger

	TrackingInterval time.Duration
}

// Controller is the screen-level state for one order: it loads the order,
// forwards status changes and manual check-ins, and owns the order's
// location sampler. Public methods post onto the loop and return at once;
// optional done callbacks run on the loop.
type Controller struct {
	orderID  int
	loop     *looper.Looper
	orders   Orders
	checkin  statusflow.CheckIn
	notifier notify.Notifier
	logger   *slog.Logger

	sampler *sampler.Sampler
	status  *statusflow.Controller

	order    *models.Order
	attached bool
}

func New(orderID int, d Deps) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("order_id", orderID)
	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.Log{Logger: logger}
	}

	c := &Controller{
		orderID:  orderID,
		loop:     d.Loop,
		orders:   d.Orders,
		checkin:  d.CheckIn,
		notifier: notifier,
		logger:   logger,
	}
	c.sampler = sampler.New(d.Loop, d.Provider, d.Permissions, logger).
		WithSettings(d.TrackingInterval, 0).
		WithHandler(c.trackingCheckIn)
	c.status = statusflow.New(d.Loop, orderID, d.API, d.CheckIn, c.sampler, d.Permissions).
		WithNotifier(notifier).
		WithLogger(logger)
	return c
}

func (c *Controller) OrderID() int { return c.orderID }

// Attach loads the order and seeds the local status.
func (c *Controller) Attach(done func(*models.Order, error)) {
	c.loop.Post(func() {
		c.attached = true
		looper.Go(c.loop, context.Background(), func(ctx context.Context) (*models.Order, error) {
			return c.orders.GetOrder(ctx, c.orderID)
		}, func(o *models.Order, err error) {
			if err != nil {
				code, _ := deliveryapi.StatusCode(err)
				c.notify(notify.Event{Kind: notify.KindOrderFailed, Message: "order load failed", Code: code, Body: deliveryapi.ErrorBody(err)})
			} else {
				c.order = o
				c.status.SetInitial(o)
				c.notify(notify.Event{Kind: notify.KindOrderLoaded, Message: fmt.Sprintf("order %s is %s", o.DisplayCode(), o.Status)})
			}
			if done != nil {
				done(o, err)
			}
		})
	})
}

// Detach stops tracking. Requests already in flight still complete.
func (c *Controller) Detach() {
	c.loop.Post(func() {
		c.attached = false
		c.sampler.Stop()
	})
}

func (c *Controller) UpdateStatus(ordinal int, done func(*models.Order, error)) {
	c.loop.Post(func() {
		c.status.Update(ordinal, func(o *models.Order, err error) {
			if err == nil {
				if c.order != nil {
					c.order.Status = o.Status
				}
				remembered := *o
				go c.orders.Remember(context.Background(), &remembered)
			}
			if done != nil {
				done(o, err)
			}
		})
	})
}

// CheckIn submits a manual checkpoint. The tracked sample wins over the typed
// coordinates when one exists.
func (c *Controller) CheckIn(latText, lngText, note string, done func(*models.LocationCheckpoint, error)) {
	if done == nil {
		done = func(*models.LocationCheckpoint, error) {}
	}
	c.loop.Post(func() {
		var current *models.LocationSample
		if s, ok := c.sampler.Current(); ok {
			current = &s
		}
		lat, lng, err := checkin.ResolveCoordinates(current, latText, lngText)
		if err != nil {
			c.notify(notify.Event{Kind: notify.KindInvalidInput, Message: err.Error()})
			done(nil, err)
			return
		}

		looper.Go(c.loop, context.Background(), func(ctx context.Context) (*models.LocationCheckpoint, error) {
			return c.checkin.SubmitAs(ctx, messages.SourceManual, c.orderID, lat, lng, note)
		}, func(cp *models.LocationCheckpoint, err error) {
			c.reportCheckIn("check-in", cp, err)
			done(cp, err)
		})
	})
}

func (c *Controller) SetAutoTrack(enabled bool) {
	c.loop.Post(func() {
		if enabled {
			c.logger.Info("auto tracking on", "interval", c.sampler.Interval().String())
			c.sampler.Start()
			return
		}
		c.logger.Info("auto tracking off")
		c.sampler.Stop()
	})
}

// OnPermissionResult relays the host's answer to a location prompt.
func (c *Controller) OnPermissionResult(granted bool) {
	c.loop.Post(func() {
		if granted {
			c.sampler.Resume()
		} else if c.sampler.Enabled() {
			c.notify(notify.Event{Kind: notify.KindPermission, Message: "location permission denied; tracking paused"})
		}
		c.status.OnPermissionResult(granted)
	})
}

type Snapshot struct {
	OrderID            int                    `json:"orderId"`
	Attached           bool                   `json:"attached"`
	Order              *models.Order          `json:"order,omitempty"`
	Status             string                 `json:"status,omitempty"`
	StatusOrdinal      *int                   `json:"statusOrdinal,omitempty"`
	AutoTrack          bool                   `json:"autoTrack"`
	NextSampleQueued   bool                   `json:"nextSampleQueued"`
	Current            *models.LocationSample `json:"current,omitempty"`
	AwaitingPermission int                    `json:"awaitingPermission"`
	Sampler            sampler.Stats          `json:"sampler"`
	Transitions        statusflow.Stats       `json:"transitions"`
}

// Snapshot reads the controller state on the loop.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.loop.Call(ctx, func() {
		snap = Snapshot{
			OrderID:            c.orderID,
			Attached:           c.attached,
			AutoTrack:          c.sampler.Enabled(),
			NextSampleQueued:   c.sampler.Pending(),
			AwaitingPermission: c.status.AwaitingPermission(),
			Sampler:            c.sampler.Stats(),
			Transitions:        c.status.Stats(),
		}
		if c.order != nil {
			o := *c.order
			snap.Order = &o
		}
		if s, ok := c.status.Status(); ok {
			n := int(s)
			snap.Status = s.String()
			snap.StatusOrdinal = &n
		}
		if s, ok := c.sampler.Current(); ok {
			snap.Current = &s
		}
	})
	return snap, err
}

func (c *Controller) trackingCheckIn(sample models.LocationSample) {
	looper.Go(c.loop, context.Background(), func(ctx context.Context) (*models.LocationCheckpoint, error) {
		return c.checkin.SubmitAs(ctx, messages.SourceTracking, c.orderID, sample.Latitude, sample.Longitude, TrackingNote)
	}, func(cp *models.LocationCheckpoint, err error) {
		c.reportCheckIn("tracking check-in", cp, err)
	})
}

func (c *Controller) reportCheckIn(what string, cp *models.LocationCheckpoint, err error) {
	if err != nil {
		code, _ := deliveryapi.StatusCode(err)
		c.notify(notify.Event{Kind: notify.KindCheckInFailed, Message: what + " failed", Code: code, Body: deliveryapi.ErrorBody(err)})
		return
	}
	c.notify(notify.Event{Kind: notify.KindCheckedIn, Message: fmt.Sprintf("%s at %.6f, %.6f", what, cp.Latitude, cp.Longitude)})
}

func (c *Controller) notify(e notify.Event) {
	e.OrderID = c.orderID
	e.At = c.loop.Clock().Now().UTC()
	c.notifier.Notify(e)
}
