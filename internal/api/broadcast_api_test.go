package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-delivery/internal/api"
	"github.com/tinywideclouds/go-push-delivery/internal/vapid"
	"github.com/tinywideclouds/go-push-delivery/internal/webpush"
	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Broadcast(ctx context.Context, caller dispatch.Caller, req dispatch.BroadcastRequest) (*dispatch.BatchSummary, error) {
	args := m.Called(ctx, caller, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.BatchSummary), args.Error(1)
}

func TestBroadcast(t *testing.T) {
	const admin = "urn:sm:user:admin"
	request := dispatch.BroadcastRequest{Title: "Hello", Body: "World", TargetType: dispatch.TargetAll}
	body, _ := json.Marshal(request)

	post := func() *http.Request {
		return withUser(httptest.NewRequest(http.MethodPost, "/api/v1/broadcast", bytes.NewReader(body)), admin)
	}

	t.Run("Success returns the batch summary", func(t *testing.T) {
		b := new(MockBroadcaster)
		b.On("Broadcast", mock.Anything, dispatch.AdminUser{ID: admin}, request).
			Return(&dispatch.BatchSummary{BatchID: "b-1", Total: 5, SuccessCount: 3, FailureCount: 2}, nil).Once()

		w := httptest.NewRecorder()
		api.NewBroadcastAPI(b, newTestLogger()).Broadcast(w, post())

		require.Equal(t, http.StatusOK, w.Code)
		var resp api.BroadcastResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, api.BroadcastResponse{BatchID: "b-1", Sent: 3, Failed: 2, Total: 5}, resp)
		b.AssertExpectations(t)
	})

	errorCases := []struct {
		name   string
		err    error
		status int
	}{
		{"Invalid request", fmt.Errorf("%w: title and body are required", dispatch.ErrInvalidRequest), http.StatusBadRequest},
		{"No recipients", dispatch.ErrNoRecipients, http.StatusUnprocessableEntity},
		{"Payload too large", fmt.Errorf("%w: 5000 bytes", webpush.ErrPayloadTooLarge), http.StatusBadRequest},
		{"VAPID missing", dispatch.ErrVapidKeyMissing, http.StatusServiceUnavailable},
		{"VAPID invalid", fmt.Errorf("%w: mismatched pair", vapid.ErrVapidKeyInvalid), http.StatusServiceUnavailable},
		{"VAPID subject invalid", fmt.Errorf("%w: got \"operator\"", vapid.ErrVapidSubjectInvalid), http.StatusServiceUnavailable},
		{"Store failure", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			b := new(MockBroadcaster)
			b.On("Broadcast", mock.Anything, mock.Anything, mock.Anything).Return(nil, tc.err).Once()

			w := httptest.NewRecorder()
			api.NewBroadcastAPI(b, newTestLogger()).Broadcast(w, post())

			assert.Equal(t, tc.status, w.Code)
		})
	}

	t.Run("Malformed JSON", func(t *testing.T) {
		b := new(MockBroadcaster)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/broadcast", bytes.NewReader([]byte("{"))), admin)

		w := httptest.NewRecorder()
		api.NewBroadcastAPI(b, newTestLogger()).Broadcast(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		b.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Requires Authentication", func(t *testing.T) {
		w := httptest.NewRecorder()
		api.NewBroadcastAPI(new(MockBroadcaster), newTestLogger()).
			Broadcast(w, httptest.NewRequest(http.MethodPost, "/api/v1/broadcast", bytes.NewReader(body)))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Requires A User Handle", func(t *testing.T) {
		b := new(MockBroadcaster)
		req := withUserIDOnly(httptest.NewRequest(http.MethodPost, "/api/v1/broadcast", bytes.NewReader(body)), admin)

		w := httptest.NewRecorder()
		api.NewBroadcastAPI(b, newTestLogger()).Broadcast(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		b.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Authorizer rejects non-admins", func(t *testing.T) {
		b := new(MockBroadcaster)
		handler := api.NewBroadcastAPI(b, newTestLogger())
		var seen dispatch.AdminUser
		handler.Authorize = func(_ context.Context, caller dispatch.AdminUser) error {
			seen = caller
			return errors.New("missing admin role")
		}

		w := httptest.NewRecorder()
		handler.Broadcast(w, post())

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, dispatch.AdminUser{ID: admin}, seen)
		b.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Authorizer admits admins", func(t *testing.T) {
		b := new(MockBroadcaster)
		b.On("Broadcast", mock.Anything, dispatch.AdminUser{ID: admin}, request).
			Return(&dispatch.BatchSummary{BatchID: "b-2", Total: 1, SuccessCount: 1}, nil).Once()
		handler := api.NewBroadcastAPI(b, newTestLogger())
		handler.Authorize = func(context.Context, dispatch.AdminUser) error { return nil }

		w := httptest.NewRecorder()
		handler.Broadcast(w, post())

		assert.Equal(t, http.StatusOK, w.Code)
		b.AssertExpectations(t)
	})
}

func TestAdminAllowlist(t *testing.T) {
	authorize := api.AdminAllowlist([]string{"urn:sm:user:admin"})

	assert.NoError(t, authorize(context.Background(), dispatch.AdminUser{ID: "urn:sm:user:admin"}))
	assert.Error(t, authorize(context.Background(), dispatch.AdminUser{ID: "urn:sm:user:someone"}))
}
