package deliveryapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/ShipperBox/internal/auth/tokenstore"
	"github.com/BearBump/ShipperBox/internal/models"
)

type staticTokens struct {
	tok string
	ok  bool
	err error
}

func (s staticTokens) Get(ctx context.Context) (string, bool, error) { return s.tok, s.ok, s.err }

func TestAuthTransport_AttachesBearerWhenTokenPresent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens{tok: "abc", ok: true}, nil, time.Second)
	_, err := c.GetMyOrders(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer abc", got)
}

func TestAuthTransport_ForwardsUnmodified(t *testing.T) {
	cases := map[string]TokenReader{
		"absent":     staticTokens{},
		"empty":      staticTokens{tok: "", ok: true},
		"read error": staticTokens{err: io.ErrUnexpectedEOF},
		"no store":   nil,
	}
	for name, tokens := range cases {
		t.Run(name, func(t *testing.T) {
			var header []string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				header = r.Header.Values("Authorization")
				_, _ = w.Write([]byte(`[]`))
			}))
			defer srv.Close()

			c := New(srv.URL, tokens, nil, time.Second)
			_, err := c.GetMyOrders(context.Background())
			require.NoError(t, err)
			require.Empty(t, header)
		})
	}
}

func TestAuthTransport_DoesNotMutateCallerRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	rt := NewAuthTransport(http.DefaultTransport, staticTokens{tok: "abc", ok: true}, nil)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Empty(t, req.Header.Get("Authorization"))
}

func TestClient_Login_Unauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/login", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Empty(t, r.Header.Get("Authorization"))

		var in models.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, "courier", in.Username)
		require.Equal(t, "secret", in.Password)

		_, _ = w.Write([]byte(`{"token":"t1","user":{"userId":3,"username":"courier","role":"Shipper"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens{tok: "stale", ok: true}, nil, time.Second)
	res, err := c.Login(context.Background(), "courier", "secret")
	require.NoError(t, err)
	require.Equal(t, "t1", res.Token)
	require.Equal(t, 3, res.User.UserID)
}

func TestClient_UpdateOrderStatus_SendsOrdinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/api/orders/15/status", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		require.Equal(t, float64(2), raw["status"])
		require.Equal(t, "15", raw["orderId"])

		_, _ = w.Write([]byte(`{"orderId":15,"orderCode":"OC15","status":"DaNhanDangGiao"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, staticTokens{tok: "abc", ok: true}, nil, time.Second)
	o, err := c.UpdateOrderStatus(context.Background(), 15, models.UpdateOrderStatusRequest{
		OrderID: "15",
		Status:  models.StatusReceivedInTransit,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusReceivedInTransit, o.Status)
}

func TestClient_Endpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/deliverystaff/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"staffId":42,"fullName":"Courier One","isAvailable":true}`))
	})
	mux.HandleFunc("GET /api/orders/staff/42", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"orderId":1,"orderCode":"A","status":0},{"orderId":2,"orderCode":"B","status":3}]`))
	})
	mux.HandleFunc("GET /api/orders/7", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orderId":7,"orderCode":"C","status":1,"checkpoints":[{"checkpointId":1,"orderId":7,"latitude":10.5,"longitude":106.7,"notes":"x","checkInTime":"2025-01-01T00:00:00Z"}]}`))
	})
	mux.HandleFunc("GET /api/tracking/order/7", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`null`))
	})
	mux.HandleFunc("POST /api/tracking/checkin", func(w http.ResponseWriter, r *http.Request) {
		var in models.CheckInRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, 7, in.OrderID)
		_, _ = w.Write([]byte(`{"checkpointId":99,"orderId":7,"latitude":10.5,"longitude":106.7,"notes":"n","checkInTime":"2025-01-01T00:00:00Z"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	c := New(srv.URL+"/", staticTokens{tok: "abc", ok: true}, nil, time.Second)

	staff, err := c.GetMyStaff(ctx)
	require.NoError(t, err)
	require.Equal(t, 42, staff.StaffID)

	orders, err := c.GetOrdersByStaff(ctx, 42)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, models.StatusDelivered, orders[1].Status)

	o, err := c.GetOrder(ctx, 7)
	require.NoError(t, err)
	require.Len(t, o.Checkpoints, 1)

	cps, err := c.GetOrderCheckpoints(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, cps)
	require.Empty(t, cps)

	cp, err := c.CheckIn(ctx, models.CheckInRequest{OrderID: 7, Latitude: 10.5, Longitude: 106.7, Notes: "n"})
	require.NoError(t, err)
	require.Equal(t, 99, cp.CheckpointID)
	require.WithinDuration(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), cp.CheckInTime, time.Second)
}

func TestClient_Unauthorized_KeepsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"expired"}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	store := tokenstore.NewFileStore(t.TempDir(), "")
	require.NoError(t, store.Set(ctx, "tok"))

	c := New(srv.URL, store, nil, time.Second)
	_, err := c.GetOrder(ctx, 1)
	require.Error(t, err)

	code, ok := StatusCode(err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, `{"message":"expired"}`, ErrorBody(err))

	tok, present, err := store.Get(ctx)
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, "tok", tok)
}

func TestClient_ErrorKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orderId":`))
	}))
	c := New(srv.URL, nil, nil, time.Second)

	_, err := c.GetOrder(context.Background(), 1)
	require.Error(t, err)
	require.True(t, IsDecode(err))
	require.False(t, IsTransport(err))

	srv.Close()
	_, err = c.GetOrder(context.Background(), 1)
	require.Error(t, err)
	require.True(t, IsTransport(err))
	_, ok := StatusCode(err)
	require.False(t, ok)
}

func TestClient_EmptyObjectBodyIsDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`null`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil, time.Second)
	_, err := c.CheckIn(context.Background(), models.CheckInRequest{OrderID: 1})
	require.True(t, IsDecode(err))
}

func TestClient_DecodesZonelessCheckpointTimes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tracking/order/7":
			_, _ = w.Write([]byte(`[{"checkpointId":1,"orderId":7,"latitude":10.5,"longitude":106.7,"notes":"x","checkInTime":"2025-10-20T10:15:30.1234567"}]`))
		case "/api/orders/7":
			_, _ = w.Write([]byte(`{"orderId":7,"status":2,"checkpoints":[{"checkpointId":1,"orderId":7,"checkInTime":"2025-10-20T10:15:30"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := New(srv.URL, nil, nil, time.Second)

	cps, err := c.GetOrderCheckpoints(ctx, 7)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	require.True(t, time.Date(2025, 10, 20, 10, 15, 30, 123456700, time.UTC).Equal(cps[0].CheckInTime))

	o, err := c.GetOrder(ctx, 7)
	require.NoError(t, err)
	require.Len(t, o.Checkpoints, 1)
	require.True(t, time.Date(2025, 10, 20, 10, 15, 30, 0, time.UTC).Equal(o.Checkpoints[0].CheckInTime))
}
