package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipperBox/internal/cache"
	"github.com/BearBump/ShipperBox/internal/integrations/deliveryapi"
	"github.com/BearBump/ShipperBox/internal/models"
)

type API interface {
	GetMyStaff(ctx context.Context) (*models.DeliveryStaff, error)
	GetMyOrders(ctx context.Context) ([]models.Order, error)
	GetOrdersByStaff(ctx context.Context, staffID int) ([]models.Order, error)
	GetOrder(ctx context.Context, orderID int) (*models.Order, error)
	GetOrderCheckpoints(ctx context.Context, orderID int) ([]models.LocationCheckpoint, error)
}

type Service struct {
	api    API
	cache  cache.BytesCache
	ttl    time.Duration
	logger *slog.Logger
}

// New builds the order service. A nil cache or non-positive ttl disables
// caching.
func New(api API, c cache.BytesCache, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, cache: c, ttl: ttl, logger: logger}
}

// ListAssigned returns the courier's orders. It resolves the staff record
// first and falls back to the server-filtered list when there is none. On
// failure the list is empty, never nil.
func (s *Service) ListAssigned(ctx context.Context) ([]models.Order, error) {
	staff, err := s.api.GetMyStaff(ctx)
	if err != nil {
		code, _ := deliveryapi.StatusCode(err)
		s.logger.Warn("staff record unavailable, using my orders", "code", code, "error", err.Error())

		out, err := s.api.GetMyOrders(ctx)
		if err != nil {
			return s.listFailed(err, "get my orders")
		}
		return out, nil
	}

	out, err := s.api.GetOrdersByStaff(ctx, staff.StaffID)
	if err != nil {
		return s.listFailed(err, "get orders by staff")
	}
	return out, nil
}

func (s *Service) listFailed(err error, op string) ([]models.Order, error) {
	code, _ := deliveryapi.StatusCode(err)
	s.logger.Error("list assigned orders", "op", op, "code", code, "body", deliveryapi.ErrorBody(err))
	return []models.Order{}, errors.Wrap(err, op)
}

func (s *Service) GetOrder(ctx context.Context, orderID int) (*models.Order, error) {
	if orderID <= 0 {
		return nil, errors.New("orderId is required")
	}

	if s.cacheOn() {
		b, ok, err := s.cache.Get(ctx, orderKey(orderID))
		if err == nil && ok {
			var o models.Order
			if json.Unmarshal(b, &o) == nil {
				return &o, nil
			}
		}
	}

	o, err := s.api.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.Remember(ctx, o)
	return o, nil
}

// Remember refreshes the cached copy of o. Best effort.
func (s *Service) Remember(ctx context.Context, o *models.Order) {
	if !s.cacheOn() || o == nil {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, orderKey(o.OrderID), b, s.ttl); err != nil {
		s.logger.Debug("order cache set", "order_id", o.OrderID, "error", err.Error())
	}
}

func (s *Service) Checkpoints(ctx context.Context, orderID int) ([]models.LocationCheckpoint, error) {
	if orderID <= 0 {
		return nil, errors.New("orderId is required")
	}
	return s.api.GetOrderCheckpoints(ctx, orderID)
}

func (s *Service) cacheOn() bool {
	return s.cache != nil && s.ttl > 0
}

func orderKey(id int) string {
	return fmt.Sprintf("order:%d:current", id)
}
