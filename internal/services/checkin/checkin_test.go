package checkin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/ShipperBox/internal/broker/messages"
	"github.com/BearBump/ShipperBox/internal/integrations/deliveryapi"
	"github.com/BearBump/ShipperBox/internal/models"
)

type apiMock struct {
	mock.Mock
}

func (m *apiMock) CheckIn(ctx context.Context, req models.CheckInRequest) (*models.LocationCheckpoint, error) {
	args := m.Called(ctx, req)
	cp, _ := args.Get(0).(*models.LocationCheckpoint)
	return cp, args.Error(1)
}

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) PublishJSON(ctx context.Context, topic, key string, v any) error {
	return m.Called(ctx, topic, key, v).Error(0)
}

func TestResolveCoordinates(t *testing.T) {
	cached := &models.LocationSample{Latitude: 10.1, Longitude: 106.2}

	lat, lng, err := ResolveCoordinates(cached, "not", "used")
	require.NoError(t, err)
	require.Equal(t, 10.1, lat)
	require.Equal(t, 106.2, lng)

	lat, lng, err = ResolveCoordinates(nil, " 10.5 ", "106.75")
	require.NoError(t, err)
	require.Equal(t, 10.5, lat)
	require.Equal(t, 106.75, lng)

	_, _, err = ResolveCoordinates(nil, "", "106")
	require.ErrorIs(t, err, ErrCoordinatesRequired)
	_, _, err = ResolveCoordinates(nil, "10", "  ")
	require.ErrorIs(t, err, ErrCoordinatesRequired)

	for _, bad := range [][2]string{{"abc", "106"}, {"10", "1o6"}, {"NaN", "106"}, {"10", "Inf"}} {
		_, _, err = ResolveCoordinates(nil, bad[0], bad[1])
		require.ErrorIs(t, err, ErrInvalidCoordinates, bad)
	}
}

func TestSubmitter_Submit(t *testing.T) {
	api := &apiMock{}
	want := models.CheckInRequest{OrderID: 7, Latitude: 10.5, Longitude: 106.7, Notes: "at gate"}
	api.On("CheckIn", mock.Anything, want).
		Return(&models.LocationCheckpoint{CheckpointID: 1, OrderID: 7}, nil).
		Once()

	s := New(api, nil)
	cp, err := s.Submit(context.Background(), 7, 10.5, 106.7, "at gate")
	require.NoError(t, err)
	require.Equal(t, 1, cp.CheckpointID)
	require.Equal(t, Stats{Submitted: 1}, s.Stats())
	api.AssertExpectations(t)
}

func TestSubmitter_FailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`order closed`))
	}))
	defer srv.Close()

	s := New(deliveryapi.New(srv.URL, nil, nil, time.Second), nil)
	_, err := s.Submit(context.Background(), 7, 1, 2, "n")
	require.Error(t, err)

	code, ok := deliveryapi.StatusCode(err)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "order closed", deliveryapi.ErrorBody(err))
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, Stats{Failed: 1}, s.Stats())
}

func TestSubmitter_PublishesTelemetry(t *testing.T) {
	at := time.Date(2025, 2, 1, 9, 30, 0, 0, time.UTC)
	api := &apiMock{}
	api.On("CheckIn", mock.Anything, mock.Anything).
		Return(&models.LocationCheckpoint{CheckpointID: 5, OrderID: 7, Latitude: 1, Longitude: 2, Notes: "Auto tracking check-in", CheckInTime: at}, nil)

	pub := &publisherMock{}
	pub.On("PublishJSON", mock.Anything, "checkpoints", "7", messages.CheckpointSubmitted{
		OrderID:      7,
		CheckpointID: 5,
		Latitude:     1,
		Longitude:    2,
		Notes:        "Auto tracking check-in",
		Source:       messages.SourceTracking,
		SubmittedAt:  at,
	}).Return(nil).Once()

	s := New(api, nil).WithTelemetry(pub, "checkpoints")
	_, err := s.SubmitAs(context.Background(), messages.SourceTracking, 7, 1, 2, "Auto tracking check-in")
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestSubmitter_TelemetryFailureIsNotFatal(t *testing.T) {
	api := &apiMock{}
	api.On("CheckIn", mock.Anything, mock.Anything).Return(&models.LocationCheckpoint{CheckpointID: 5, OrderID: 7}, nil)
	pub := &publisherMock{}
	pub.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	s := New(api, nil).WithTelemetry(pub, "checkpoints")
	cp, err := s.Submit(context.Background(), 7, 1, 2, "")
	require.NoError(t, err)
	require.Equal(t, 5, cp.CheckpointID)
	pub.AssertNumberOfCalls(t, "PublishJSON", 1)
}
