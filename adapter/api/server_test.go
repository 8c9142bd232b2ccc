package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaspass/gaspass/internal/shared/infrastructure/database"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/outbox"
	sharedPersistence "github.com/gaspass/gaspass/internal/shared/infrastructure/persistence"
	sponsorshipApplication "github.com/gaspass/gaspass/internal/sponsorship/application"
	sponsorshipPersistence "github.com/gaspass/gaspass/internal/sponsorship/infrastructure/persistence"
	subscriptionApplication "github.com/gaspass/gaspass/internal/subscription/application"
	subscriptionPersistence "github.com/gaspass/gaspass/internal/subscription/infrastructure/persistence"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()

	conn, err := database.Open(context.Background(), "file::memory:")
	require.NoError(t, err)
	require.NoError(t, conn.Migrate(context.Background()))
	t.Cleanup(func() { conn.Close() })

	db := conn.DB()
	uow := sharedPersistence.NewSQLiteUnitOfWork(db)
	subscriptionRepo := subscriptionPersistence.NewSQLiteSubscriptionRepository(db)
	reservationRepo := sponsorshipPersistence.NewSQLiteReservationRepository(db)
	outboxRepo := outbox.NewSQLiteRepository(db)

	ownership := subscriptionApplication.NewRecordOwnership(subscriptionRepo)
	ledger := subscriptionApplication.NewLedger(subscriptionRepo, ownership, outboxRepo, uow, 1, nil)
	tracker := sponsorshipApplication.NewUsageTracker(reservationRepo, ledger, outboxRepo, uow, sponsorshipApplication.NewSubscriptionLocks(), 1, nil)
	authorizer := sponsorshipApplication.NewAuthorizer(ledger, tracker, nil, uow, 1, nil)

	server := NewServer(DefaultServerConfig(),
		NewSubscriptionHandler(ledger, nil),
		NewSponsorshipHandler(authorizer, nil),
		nil,
	)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func mintViaAPI(t *testing.T, ts *httptest.Server, paid string, sponsored ...string) string {
	t.Helper()

	start := time.Now().UTC().Add(-time.Hour)
	status, body := doJSON(t, ts, http.MethodPost, "/api/v1/subscriptions", map[string]any{
		"owner":               "0xOwner",
		"home_chain_id":       1,
		"payment_token":       "0xtoken",
		"start_time":          start.Format(time.RFC3339),
		"end_time":            start.Add(24 * time.Hour).Format(time.RFC3339),
		"paid_amount":         paid,
		"sponsored_addresses": sponsored,
	})
	require.Equal(t, http.StatusCreated, status)
	id, ok := body["id"].(string)
	require.True(t, ok)
	return id
}

func TestServer_Health(t *testing.T) {
	ts := newTestAPI(t)

	status, body := doJSON(t, ts, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_MintAndGet(t *testing.T) {
	ts := newTestAPI(t)
	id := mintViaAPI(t, ts, "1000", "0xAlice")

	status, body := doJSON(t, ts, http.MethodGet, "/api/v1/subscriptions/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "0xowner", body["owner"])
	assert.Equal(t, "1000", body["paid_amount"])
	assert.Equal(t, "1000", body["remaining_balance"])
	assert.Equal(t, true, body["active"])
	assert.Equal(t, []any{"0xalice"}, body["sponsored_addresses"])
}

func TestServer_Mint_InvalidAmount(t *testing.T) {
	ts := newTestAPI(t)

	start := time.Now().UTC()
	status, _ := doJSON(t, ts, http.MethodPost, "/api/v1/subscriptions", map[string]any{
		"owner":         "0xowner",
		"home_chain_id": 1,
		"payment_token": "0xtoken",
		"start_time":    start.Format(time.RFC3339),
		"end_time":      start.Add(time.Hour).Format(time.RFC3339),
		"paid_amount":   "-5",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_Get_NotFound(t *testing.T) {
	ts := newTestAPI(t)

	status, _ := doJSON(t, ts, http.MethodGet, "/api/v1/subscriptions/7b7e9634-07c5-4e55-a0ad-1dc7f28ca4a1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_ListByOwner(t *testing.T) {
	ts := newTestAPI(t)
	mintViaAPI(t, ts, "100", "0xalice")
	mintViaAPI(t, ts, "200", "0xbob")

	status, body := doJSON(t, ts, http.MethodGet, "/api/v1/subscriptions?owner=0xOWNER", nil)
	require.Equal(t, http.StatusOK, status)
	subs, ok := body["subscriptions"].([]any)
	require.True(t, ok)
	assert.Len(t, subs, 2)

	status, _ = doJSON(t, ts, http.MethodGet, "/api/v1/subscriptions", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_TopUp(t *testing.T) {
	ts := newTestAPI(t)
	id := mintViaAPI(t, ts, "100", "0xalice")

	status, _ := doJSON(t, ts, http.MethodPost, "/api/v1/subscriptions/"+id+"/topup", map[string]any{
		"caller": "0xowner",
		"amount": "50",
	})
	require.Equal(t, http.StatusNoContent, status)

	status, body := doJSON(t, ts, http.MethodGet, "/api/v1/subscriptions/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "150", body["remaining_balance"])
}

func TestServer_TopUp_NotOwner(t *testing.T) {
	ts := newTestAPI(t)
	id := mintViaAPI(t, ts, "100", "0xalice")

	status, _ := doJSON(t, ts, http.MethodPost, "/api/v1/subscriptions/"+id+"/topup", map[string]any{
		"caller": "0xmallory",
		"amount": "50",
	})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestServer_SponsoredManagement(t *testing.T) {
	ts := newTestAPI(t)
	id := mintViaAPI(t, ts, "100", "0xalice")

	status, _ := doJSON(t, ts, http.MethodPost, "/api/v1/subscriptions/"+id+"/sponsored", map[string]any{
		"caller":  "0xowner",
		"address": "0xBob",
	})
	require.Equal(t, http.StatusNoContent, status)

	status, body := doJSON(t, ts, http.MethodGet, "/api/v1/subscriptions/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"0xalice", "0xbob"}, body["sponsored_addresses"])

	status, _ = doJSON(t, ts, http.MethodDelete, "/api/v1/subscriptions/"+id+"/sponsored/0xalice?caller=0xowner", nil)
	require.Equal(t, http.StatusNoContent, status)

	// Removing an address that was never sponsored is rejected
	status, _ = doJSON(t, ts, http.MethodDelete, "/api/v1/subscriptions/"+id+"/sponsored/0xcarol?caller=0xowner", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_Burn_StillActive(t *testing.T) {
	ts := newTestAPI(t)
	id := mintViaAPI(t, ts, "100", "0xalice")

	status, _ := doJSON(t, ts, http.MethodDelete, "/api/v1/subscriptions/"+id+"?caller=0xowner", nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestServer_PreAuthorizeAndSettle(t *testing.T) {
	ts := newTestAPI(t)
	id := mintViaAPI(t, ts, "100", "0xalice")

	status, body := doJSON(t, ts, http.MethodPost, "/api/v1/sponsorship/preauthorize", map[string]any{
		"operation_id":       "op-1",
		"requester":          "0xalice",
		"subscription_id":    id,
		"execution_chain_id": 1,
		"estimated_amount":   "60",
	})
	require.Equal(t, http.StatusOK, status)
	reservationID, ok := body["reservation_id"].(string)
	require.True(t, ok)
	assert.Equal(t, "op-1", body["operation_id"])
	assert.Equal(t, "60", body["estimated_amount"])

	status, _ = doJSON(t, ts, http.MethodPost, "/api/v1/sponsorship/settle", map[string]any{
		"operation_id":       "op-1",
		"reservation_id":     reservationID,
		"subscription_id":    id,
		"execution_chain_id": 1,
		"outcome":            "succeeded",
		"actual_amount":      "45",
	})
	require.Equal(t, http.StatusNoContent, status)

	status, sub := doJSON(t, ts, http.MethodGet, "/api/v1/subscriptions/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "55", sub["remaining_balance"])
}

func TestServer_PreAuthorize_NotSponsored(t *testing.T) {
	ts := newTestAPI(t)
	id := mintViaAPI(t, ts, "100", "0xalice")

	status, _ := doJSON(t, ts, http.MethodPost, "/api/v1/sponsorship/preauthorize", map[string]any{
		"operation_id":       "op-1",
		"requester":          "0xmallory",
		"subscription_id":    id,
		"execution_chain_id": 1,
		"estimated_amount":   "60",
	})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestServer_PreAuthorize_InsufficientAvailable(t *testing.T) {
	ts := newTestAPI(t)
	id := mintViaAPI(t, ts, "100", "0xalice")

	status, _ := doJSON(t, ts, http.MethodPost, "/api/v1/sponsorship/preauthorize", map[string]any{
		"operation_id":       "op-1",
		"requester":          "0xalice",
		"subscription_id":    id,
		"execution_chain_id": 1,
		"estimated_amount":   "150",
	})
	assert.Equal(t, http.StatusPaymentRequired, status)
}

func TestServer_PreAuthorize_DuplicateOperation(t *testing.T) {
	ts := newTestAPI(t)
	id := mintViaAPI(t, ts, "100", "0xalice")

	request := map[string]any{
		"operation_id":       "op-1",
		"requester":          "0xalice",
		"subscription_id":    id,
		"execution_chain_id": 1,
		"estimated_amount":   "10",
	}
	status, _ := doJSON(t, ts, http.MethodPost, "/api/v1/sponsorship/preauthorize", request)
	require.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, ts, http.MethodPost, "/api/v1/sponsorship/preauthorize", request)
	assert.Equal(t, http.StatusConflict, status)
}

func TestServer_Settle_NotChargeableReleasesHold(t *testing.T) {
	ts := newTestAPI(t)
	id := mintViaAPI(t, ts, "100", "0xalice")

	status, body := doJSON(t, ts, http.MethodPost, "/api/v1/sponsorship/preauthorize", map[string]any{
		"operation_id":       "op-1",
		"requester":          "0xalice",
		"subscription_id":    id,
		"execution_chain_id": 1,
		"estimated_amount":   "100",
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, ts, http.MethodPost, "/api/v1/sponsorship/settle", map[string]any{
		"operation_id":       "op-1",
		"reservation_id":     body["reservation_id"],
		"subscription_id":    id,
		"execution_chain_id": 1,
		"outcome":            "failed_not_chargeable",
	})
	require.Equal(t, http.StatusNoContent, status)

	// The hold is freed, so the full balance can be reserved again
	status, _ = doJSON(t, ts, http.MethodPost, "/api/v1/sponsorship/preauthorize", map[string]any{
		"operation_id":       "op-2",
		"requester":          "0xalice",
		"subscription_id":    id,
		"execution_chain_id": 1,
		"estimated_amount":   "100",
	})
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_Settle_WrongSubscriptionRejected(t *testing.T) {
	ts := newTestAPI(t)
	id := mintViaAPI(t, ts, "100", "0xalice")
	other := mintViaAPI(t, ts, "100", "0xbob")

	status, body := doJSON(t, ts, http.MethodPost, "/api/v1/sponsorship/preauthorize", map[string]any{
		"operation_id":       "op-1",
		"requester":          "0xalice",
		"subscription_id":    id,
		"execution_chain_id": 1,
		"estimated_amount":   "60",
	})
	require.Equal(t, http.StatusOK, status)

	// The reservation belongs to the first subscription; settling it under
	// another subscription's ID must not go through
	status, _ = doJSON(t, ts, http.MethodPost, "/api/v1/sponsorship/settle", map[string]any{
		"operation_id":       "op-1",
		"reservation_id":     body["reservation_id"],
		"subscription_id":    other,
		"execution_chain_id": 1,
		"outcome":            "succeeded",
		"actual_amount":      "45",
	})
	assert.Equal(t, http.StatusNotFound, status)

	status, sub := doJSON(t, ts, http.MethodGet, "/api/v1/subscriptions/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "100", sub["remaining_balance"])
}

func TestServer_Settle_InvalidOutcome(t *testing.T) {
	ts := newTestAPI(t)
	id := mintViaAPI(t, ts, "100", "0xalice")

	status, _ := doJSON(t, ts, http.MethodPost, "/api/v1/sponsorship/settle", map[string]any{
		"operation_id":       "op-1",
		"reservation_id":     "7b7e9634-07c5-4e55-a0ad-1dc7f28ca4a1",
		"subscription_id":    id,
		"execution_chain_id": 1,
		"outcome":            "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_IsActive(t *testing.T) {
	ts := newTestAPI(t)
	id := mintViaAPI(t, ts, "100", "0xalice")

	status, body := doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/v1/subscriptions/%s/active", id), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["active"])
}
