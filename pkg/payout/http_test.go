package payout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ambassador-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestHTTPRailTransfer(t *testing.T) {
	var got TransferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/transfers", r.URL.Path)
		require.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(TransferResult{Outcome: OutcomeSuccess, TxRef: "tx-42"})
	}))
	defer srv.Close()

	rail := NewHTTPRail(srv.URL, "secret", time.Second)
	res, err := rail.Transfer(context.Background(), TransferRequest{
		IdempotencyKey: "key-1",
		UserID:         "u1",
		Destination:    "wallet-1",
		Token:          "USDT",
		Amount:         500,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, "tx-42", res.TxRef)
	require.Equal(t, int64(500), got.Amount)
}

func TestHTTPRailDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"status":"FAILED","reason":"insufficient float"}`))
	}))
	defer srv.Close()

	res, err := NewHTTPRail(srv.URL, "", time.Second).Transfer(context.Background(), TransferRequest{IdempotencyKey: "k"})
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.Equal(t, "insufficient float", res.Reason)
}

func TestHTTPRailUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPRail(srv.URL, "", time.Second).Transfer(context.Background(), TransferRequest{IdempotencyKey: "k"})
	require.Error(t, err)
}

func TestHTTPRailDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTPRail(srv.URL, "", 5*time.Second).Transfer(ctx, TransferRequest{IdempotencyKey: "k"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTONRailRejectsBeforeConnecting(t *testing.T) {
	rail := NewTONRail("", false)

	res, err := rail.Transfer(context.Background(), TransferRequest{Token: "USDT", Destination: "x"})
	require.NoError(t, err)
	require.Equal(t, "unsupported token", res.Reason)

	res, err = rail.Transfer(context.Background(), TransferRequest{Token: "TON", Destination: "not-an-address"})
	require.NoError(t, err)
	require.Equal(t, "invalid destination", res.Reason)
}

func TestHTTPTimeoutOutlivesDistributionBound(t *testing.T) {
	cfg := &config.Config{}
	cfg.Distribution.Timeout = 15 * time.Second
	cfg.Payout.HTTP.Timeout = 15 * time.Second
	require.Equal(t, 20*time.Second, httpTimeout(cfg))

	cfg.Payout.HTTP.Timeout = time.Minute
	require.Equal(t, time.Minute, httpTimeout(cfg))

	cfg.Distribution.Timeout = 0
	cfg.Payout.HTTP.Timeout = 0
	require.Equal(t, 20*time.Second, httpTimeout(cfg))
}
