package statusflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipperBox/internal/broker/messages"
	"github.com/BearBump/ShipperBox/internal/integrations/deliveryapi"
	"github.com/BearBump/ShipperBox/internal/integrations/location"
	"github.com/BearBump/ShipperBox/internal/models"
	"github.com/BearBump/ShipperBox/internal/services/looper"
	"github.com/BearBump/ShipperBox/internal/services/notify"
)

const (
	UpdateNote      = "Updated from courier app"
	AutoCheckInNote = "Auto check-in on status change"
)

var ErrInvalidStatus = errors.New("invalid status selection")

type API interface {
	UpdateOrderStatus(ctx context.Context, orderID int, req models.UpdateOrderStatusRequest) (*models.Order, error)
}

type CheckIn interface {
	SubmitAs(ctx context.Context, source string, orderID int, lat, lng float64, note string) (*models.LocationCheckpoint, error)
}

// Location is the sampler's view used for the automatic check-in.
type Location interface {
	Current() (models.LocationSample, bool)
	Fetch(done func(models.LocationSample, error))
}

// Controller drives status changes for one order. Every method runs on the
// loop goroutine; results are delivered there too.
type Controller struct {
	loop    *looper.Looper
	orderID int
	staffID string

	api      API
	checkin  CheckIn
	loc      Location
	perms    location.Permissions
	notifier notify.Notifier
	logger   *slog.Logger

	status        models.OrderStatus
	known         bool
	awaitingGrant int

	updates      atomic.Int64
	failures     atomic.Int64
	autoCheckIns atomic.Int64
}

func New(loop *looper.Looper, orderID int, api API, checkin CheckIn, loc Location, perms location.Permissions) *Controller {
	return &Controller{
		loop:     loop,
		orderID:  orderID,
		api:      api,
		checkin:  checkin,
		loc:      loc,
		perms:    perms,
		notifier: notify.Log{},
		logger:   slog.Default(),
	}
}

func (c *Controller) WithNotifier(n notify.Notifier) *Controller {
	if n != nil {
		c.notifier = n
	}
	return c
}

func (c *Controller) WithLogger(l *slog.Logger) *Controller {
	if l != nil {
		c.logger = l
	}
	return c
}

// SetInitial seeds the local status from an order fetch.
func (c *Controller) SetInitial(o *models.Order) {
	c.status = o.Status
	c.known = true
	if o.AssignedStaffID != nil {
		c.staffID = *o.AssignedStaffID
	}
}

// Status returns the last confirmed status; ok is false before the order loaded.
func (c *Controller) Status() (models.OrderStatus, bool) {
	return c.status, c.known
}

// AwaitingPermission reports automatic check-ins held back by a missing grant.
func (c *Controller) AwaitingPermission() int { return c.awaitingGrant }

// Update asks the server to move the order to the status at ordinal. Any
// status may follow any other; the server decides legality. done may be nil.
func (c *Controller) Update(ordinal int, done func(*models.Order, error)) {
	if done == nil {
		done = func(*models.Order, error) {}
	}

	target, err := models.StatusFromOrdinal(ordinal)
	if err != nil {
		c.notify(notify.Event{Kind: notify.KindInvalidInput, Message: err.Error()})
		done(nil, errors.Wrap(ErrInvalidStatus, err.Error()))
		return
	}

	req := models.UpdateOrderStatusRequest{
		OrderID: strconv.Itoa(c.orderID),
		StaffID: c.staffID,
		Status:  target,
		Notes:   UpdateNote,
	}
	c.logger.Info("update order status", "order_id", c.orderID, "status", target.String(), "ordinal", ordinal)

	looper.Go(c.loop, context.Background(), func(ctx context.Context) (*models.Order, error) {
		return c.api.UpdateOrderStatus(ctx, c.orderID, req)
	}, func(o *models.Order, err error) {
		if err != nil {
			c.failures.Add(1)
			code, _ := deliveryapi.StatusCode(err)
			c.notify(notify.Event{
				Kind:    notify.KindStatusFailed,
				Message: "status update failed",
				Code:    code,
				Body:    deliveryapi.ErrorBody(err),
			})
			done(nil, err)
			return
		}

		c.updates.Add(1)
		c.status = o.Status
		c.known = true
		c.notify(notify.Event{
			Kind:    notify.KindStatusUpdated,
			Message: fmt.Sprintf("status updated to %s", o.Status),
		})

		if o.Status == models.StatusReceivedInTransit {
			c.autoCheckIn()
		}
		done(o, nil)
	})
}

// OnPermissionResult resumes automatic check-ins that were waiting for a
// location grant.
func (c *Controller) OnPermissionResult(granted bool) {
	n := c.awaitingGrant
	if n == 0 {
		return
	}
	c.awaitingGrant = 0

	if !granted {
		c.notify(notify.Event{
			Kind:    notify.KindPermission,
			Message: "location permission denied; automatic check-in skipped",
		})
		return
	}
	for i := 0; i < n; i++ {
		c.autoCheckIn()
	}
}

func (c *Controller) autoCheckIn() {
	if !c.perms.Granted() {
		c.awaitingGrant++
		c.perms.Request()
		c.notify(notify.Event{
			Kind:    notify.KindPermission,
			Message: "location permission required for automatic check-in",
		})
		return
	}

	c.autoCheckIns.Add(1)
	if sample, ok := c.loc.Current(); ok {
		c.submit(sample)
		return
	}
	c.loc.Fetch(func(sample models.LocationSample, err error) {
		if err != nil {
			c.notify(notify.Event{
				Kind:    notify.KindCheckInFailed,
				Message: "location unavailable for automatic check-in: " + err.Error(),
			})
			return
		}
		c.submit(sample)
	})
}

func (c *Controller) submit(sample models.LocationSample) {
	looper.Go(c.loop, context.Background(), func(ctx context.Context) (*models.LocationCheckpoint, error) {
		return c.checkin.SubmitAs(ctx, messages.SourceStatusChange, c.orderID, sample.Latitude, sample.Longitude, AutoCheckInNote)
	}, func(cp *models.LocationCheckpoint, err error) {
		if err != nil {
			code, _ := deliveryapi.StatusCode(err)
			c.notify(notify.Event{
				Kind:    notify.KindCheckInFailed,
				Message: "automatic check-in failed",
				Code:    code,
				Body:    deliveryapi.ErrorBody(err),
			})
			return
		}
		c.notify(notify.Event{
			Kind:    notify.KindCheckedIn,
			Message: fmt.Sprintf("automatic check-in at %.6f, %.6f", cp.Latitude, cp.Longitude),
		})
	})
}

func (c *Controller) notify(e notify.Event) {
	e.OrderID = c.orderID
	e.At = c.loop.Clock().Now().UTC()
	c.notifier.Notify(e)
}

type Stats struct {
	Updates      int64 `json:"updates"`
	Failures     int64 `json:"failures"`
	AutoCheckIns int64 `json:"autoCheckIns"`
}

func (c *Controller) Stats() Stats {
	return Stats{
		Updates:      c.updates.Load(),
		Failures:     c.failures.Load(),
		AutoCheckIns: c.autoCheckIns.Load(),
	}
}
