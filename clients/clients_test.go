package clients_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnpbots/pnptv-app-sub006/clients"
	"github.com/pnpbots/pnptv-app-sub006/models"
)

func TestEntitlementClient_Activate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := clients.NewEntitlementClient(srv.URL, time.Second)
	err := c.Activate(context.Background(), models.EntitlementGrant{
		ID:        "grant-1",
		PaymentID: "pay-1",
		UserID:    "user-1",
		PlanID:    "monthly",
		ExpiresAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "grant-1", got["grant_id"])
	assert.Equal(t, "user-1", got["user_id"])
	assert.Equal(t, "2026-04-01T00:00:00Z", got["expires_at"])
}

func TestEntitlementClient_Non2xxIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := clients.NewEntitlementClient(srv.URL, time.Second)
	err := c.Activate(context.Background(), models.EntitlementGrant{PaymentID: "pay-1"})
	assert.ErrorContains(t, err, "503")
}

func TestNotificationClient_Notify(t *testing.T) {
	var got models.Outcome
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	c := clients.NewNotificationClient(srv.URL, time.Second)
	outcome := models.Outcome{PaymentID: "pay-1", UserID: "user-1", PlanID: "monthly", Status: models.StatusAbandoned, Reason: models.ReasonPendingCeilingExceeded}
	require.NoError(t, c.Notify(context.Background(), outcome))
	assert.Equal(t, outcome, got)
}

func TestNotificationClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := clients.NewNotificationClient(srv.URL, 50*time.Millisecond)
	assert.Error(t, c.Notify(context.Background(), models.Outcome{PaymentID: "pay-1"}))
}

func TestLogFallbacks(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, clients.LogNotifier{}.Notify(ctx, models.Outcome{PaymentID: "pay-1"}))
	assert.Error(t, clients.LogActivator{}.Activate(ctx, models.EntitlementGrant{PaymentID: "pay-1"}), "unactivated grants stay owed")
}
