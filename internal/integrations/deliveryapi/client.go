package deliveryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipperBox/internal/models"
)

const maxErrorBody = 4 << 10

// Client talks to the delivery management REST API. Every call except Login
// goes through AuthTransport.
type Client struct {
	baseURL string
	httpc   *http.Client
	anon    *http.Client
	logger  *slog.Logger
}

func New(baseURL string, tokens TokenReader, logger *slog.Logger, timeout time.Duration) *Client {
	return NewWithTransport(baseURL, tokens, logger, timeout, http.DefaultTransport)
}

// NewWithTransport lets tests and callers substitute the innermost transport.
func NewWithTransport(baseURL string, tokens TokenReader, logger *slog.Logger, timeout time.Duration, base http.RoundTripper) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:5221"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logging := &loggingTransport{base: base, logger: logger}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc: &http.Client{
			Timeout:   timeout,
			Transport: NewAuthTransport(logging, tokens, logger),
		},
		anon: &http.Client{
			Timeout:   timeout,
			Transport: logging,
		},
		logger: logger,
	}
}

func (c *Client) Login(ctx context.Context, username, password string) (*models.LoginResponse, error) {
	var out *models.LoginResponse
	err := c.do(ctx, c.anon, "login", http.MethodPost, "/api/auth/login",
		models.LoginRequest{Username: username, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, c.emptyBody("login")
	}
	return out, nil
}

func (c *Client) GetMyStaff(ctx context.Context) (*models.DeliveryStaff, error) {
	var out *models.DeliveryStaff
	if err := c.do(ctx, c.httpc, "get my staff", http.MethodGet, "/api/deliverystaff/me", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, c.emptyBody("get my staff")
	}
	return out, nil
}

func (c *Client) GetMyOrders(ctx context.Context) ([]models.Order, error) {
	var out []models.Order
	if err := c.do(ctx, c.httpc, "get my orders", http.MethodGet, "/api/orders/my", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Order{}
	}
	return out, nil
}

func (c *Client) GetOrdersByStaff(ctx context.Context, staffID int) ([]models.Order, error) {
	var out []models.Order
	path := fmt.Sprintf("/api/orders/staff/%d", staffID)
	if err := c.do(ctx, c.httpc, "get orders by staff", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Order{}
	}
	return out, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID int) (*models.Order, error) {
	var out *models.Order
	path := fmt.Sprintf("/api/orders/%d", orderID)
	if err := c.do(ctx, c.httpc, "get order", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, c.emptyBody("get order")
	}
	return out, nil
}

func (c *Client) UpdateOrderStatus(ctx context.Context, orderID int, req models.UpdateOrderStatusRequest) (*models.Order, error) {
	var out *models.Order
	path := fmt.Sprintf("/api/orders/%d/status", orderID)
	if err := c.do(ctx, c.httpc, "update order status", http.MethodPatch, path, req, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, c.emptyBody("update order status")
	}
	return out, nil
}

func (c *Client) GetOrderCheckpoints(ctx context.Context, orderID int) ([]models.LocationCheckpoint, error) {
	var out []models.LocationCheckpoint
	path := fmt.Sprintf("/api/tracking/order/%d", orderID)
	if err := c.do(ctx, c.httpc, "get order checkpoints", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.LocationCheckpoint{}
	}
	return out, nil
}

func (c *Client) CheckIn(ctx context.Context, req models.CheckInRequest) (*models.LocationCheckpoint, error) {
	var out *models.LocationCheckpoint
	if err := c.do(ctx, c.httpc, "check in", http.MethodPost, "/api/tracking/checkin", req, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, c.emptyBody("check in")
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, httpc *http.Client, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal "+op)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpc.Do(req)
	if err != nil {
		logger(c.logger).Error("delivery api unreachable", "op", op, "error", err.Error())
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		logger(c.logger).Error("delivery api call failed", "op", op, "code", se.Code, "body", se.Body)
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		logger(c.logger).Error("delivery api response undecodable", "op", op, "code", resp.StatusCode, "error", err.Error())
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

func (c *Client) emptyBody(op string) error {
	logger(c.logger).Error("delivery api returned empty body", "op", op)
	return &DecodeError{Op: op, Err: errors.New("empty body")}
}
