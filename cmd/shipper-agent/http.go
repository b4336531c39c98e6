package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/BearBump/ShipperBox/internal/integrations/deliveryapi"
	"github.com/BearBump/ShipperBox/internal/models"
	"github.com/BearBump/ShipperBox/internal/services/checkin"
	"github.com/BearBump/ShipperBox/internal/services/orderdetail"
	"github.com/BearBump/ShipperBox/internal/services/session"
	"github.com/BearBump/ShipperBox/internal/services/statusflow"
)

func runControlHTTPServer(ctx context.Context, a *agent, opts agentOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8090"
	}
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newControlRouter(a, opts.swaggerPath), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	a.logger.Info("control api listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newControlRouter(a *agent, swaggerPath string) http.Handler {
	api := &controlAPI{a: a}
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/stats", api.stats)
	r.Get("/events", api.events)
	r.Post("/permission", api.permission)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", api.sessionState)
		r.Post("/login", api.login)
		r.Post("/logout", api.logout)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", api.listOrders)
		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", api.orderDetail)
			r.Delete("/", api.closeOrder)
			r.Get("/checkpoints", api.checkpoints)
			r.Post("/status", api.updateStatus)
			r.Post("/checkin", api.checkIn)
			r.Put("/tracking", api.tracking)
		})
	})

	if swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}
	return r
}

type controlAPI struct {
	a *agent
}

func (api *controlAPI) stats(w http.ResponseWriter, r *http.Request) {
	open := api.a.openOrders()
	sort.Ints(open)
	writeJSON(w, http.StatusOK, map[string]any{
		"openOrders":         open,
		"checkIns":           api.a.submitter.Stats(),
		"permissionGranted":  api.a.perms.Granted(),
		"permissionRequests": api.a.perms.Requests(),
		"trackingInterval":   api.a.trackingInterval.String(),
	})
}

func (api *controlAPI) events(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.a.events.Events())
}

func (api *controlAPI) permission(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Granted bool `json:"granted"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	api.a.setPermission(in.Granted)
	writeJSON(w, http.StatusOK, map[string]any{"granted": in.Granted})
}

func (api *controlAPI) sessionState(w http.ResponseWriter, r *http.Request) {
	ok, err := api.a.session.LoggedIn(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loggedIn": ok})
}

func (api *controlAPI) login(w http.ResponseWriter, r *http.Request) {
	var in models.LoginRequest
	if !readJSON(w, r, &in) {
		return
	}
	user, err := api.a.session.Login(r.Context(), in.Username, in.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (api *controlAPI) logout(w http.ResponseWriter, r *http.Request) {
	if err := api.a.session.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *controlAPI) listOrders(w http.ResponseWriter, r *http.Request) {
	out, err := api.a.orders.ListAssigned(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (api *controlAPI) orderDetail(w http.ResponseWriter, r *http.Request) {
	c, ok := api.open(w, r)
	if !ok {
		return
	}
	snap, err := c.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (api *controlAPI) closeOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	if !api.a.release(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order is not open"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *controlAPI) checkpoints(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	out, err := api.a.orders.Checkpoints(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (api *controlAPI) updateStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status *int `json:"status"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	if in.Status == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}
	c, ok := api.open(w, r)
	if !ok {
		return
	}

	o, err := await(r.Context(), func(done func(*models.Order, error)) {
		c.UpdateStatus(*in.Status, done)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (api *controlAPI) checkIn(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Latitude  json.RawMessage `json:"latitude"`
		Longitude json.RawMessage `json:"longitude"`
		Notes     string          `json:"notes"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	c, ok := api.open(w, r)
	if !ok {
		return
	}

	cp, err := await(r.Context(), func(done func(*models.LocationCheckpoint, error)) {
		c.CheckIn(rawText(in.Latitude), rawText(in.Longitude), in.Notes, done)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (api *controlAPI) tracking(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Enabled bool `json:"enabled"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	c, ok := api.open(w, r)
	if !ok {
		return
	}
	c.SetAutoTrack(in.Enabled)

	snap, err := c.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// open returns the controller for the path's order, attaching it and waiting
// for the first load when it was not open yet.
func (api *controlAPI) open(w http.ResponseWriter, r *http.Request) (*orderdetail.Controller, bool) {
	id, ok := orderID(w, r)
	if !ok {
		return nil, false
	}
	c, created := api.a.controller(id)
	if created {
		if _, err := await(r.Context(), c.Attach); err != nil {
			api.a.release(id)
			writeError(w, err)
			return nil, false
		}
	}
	return c, true
}

func orderID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "orderID"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return 0, false
	}
	return id, true
}

// await blocks the handler, never the loop, until done fires.
func await[T any](ctx context.Context, start func(done func(T, error))) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	start(func(v T, err error) { ch <- result{v, err} })

	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// rawText accepts a JSON string or number and returns its text.
func rawText(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if json.Unmarshal(raw, &str) == nil {
		return str
	}
	return s
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]any{"error": err.Error()}

	switch {
	case errors.Is(err, session.ErrCredentialsRequired),
		errors.Is(err, checkin.ErrCoordinatesRequired),
		errors.Is(err, checkin.ErrInvalidCoordinates),
		errors.Is(err, statusflow.ErrInvalidStatus):
		writeJSON(w, http.StatusBadRequest, body)
	case errors.Is(err, session.ErrTooManyAttempts):
		writeJSON(w, http.StatusTooManyRequests, body)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusGatewayTimeout, body)
	case deliveryapi.IsTransport(err):
		writeJSON(w, http.StatusServiceUnavailable, body)
	default:
		if code, ok := deliveryapi.StatusCode(err); ok {
			body["upstreamCode"] = code
			if b := deliveryapi.ErrorBody(err); b != "" {
				body["upstreamBody"] = b
			}
			writeJSON(w, http.StatusBadGateway, body)
			return
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}
