package providers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
	"github.com/VaXeS13/MP-sub001/internal/terminal/providers"
)

func newSumUpProvider(t *testing.T, baseURL string) providers.Provider {
	t.Helper()
	p, err := providers.New(testLogger(), terminal.TenantSettings{
		Provider: "sumup",
		Config:   json.RawMessage(`{"merchant_code":"M1"}`),
		Currency: "EUR",
	})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background(), terminal.ConnectionSettings{
		Address: baseURL,
		Token:   "sup_sk_test",
	}))
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSumUpAuthorizePaid(t *testing.T) {
	restore := providers.SetPollInterval(time.Millisecond)
	defer restore()

	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v0.1/checkouts", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "co_1", "status": "PENDING"})
	})
	mux.HandleFunc("/v0.1/checkouts/co_1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 3 {
			json.NewEncoder(w).Encode(map[string]any{"id": "co_1", "status": "PENDING"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "co_1", "status": "PAID", "amount": 9.99, "currency": "EUR",
			"transactions": []map[string]any{{
				"id": "tx_1", "auth_code": "012345", "card_type": "MASTERCARD", "last4_digits": "5454",
			}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newSumUpProvider(t, srv.URL)
	res, err := p.AuthorizePayment(context.Background(), terminal.PaymentRequest{
		Amount:   decimal.RequireFromString("9.99"),
		Currency: "EUR",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "co_1", res.TransactionID)
	require.Equal(t, "012345", res.AuthorizationCode)
	require.Equal(t, "****5454", res.MaskedPan)
}

func TestSumUpRefundAllocatesFreshReference(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v0.1/checkouts/co_1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id": "co_1", "status": "PAID",
			"transactions": []map[string]any{{"id": "tx_1"}},
		})
	})
	mux.HandleFunc("/v0.1/me/refund/tx_1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newSumUpProvider(t, srv.URL)
	res, err := p.RefundPayment(context.Background(), "co_1", decimal.RequireFromString("9.99"), "")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, terminal.StatusRefunded, res.Status)
	require.True(t, strings.HasPrefix(res.TransactionID, "refund_"))
	require.NotEqual(t, "co_1", res.TransactionID)
	require.Equal(t, "tx_1", res.SafeMetadata["refunded_transaction"])
}

func TestSumUpDeclineTranslated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v0.1/checkouts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error_code": "CHECKOUT_ALREADY_PAID", "message": "Checkout was already paid.",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newSumUpProvider(t, srv.URL)
	res, err := p.AuthorizePayment(context.Background(), terminal.PaymentRequest{
		Amount:   decimal.RequireFromString("9.99"),
		Currency: "EUR",
	})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, terminal.StatusDeclined, res.Status)
	require.Equal(t, "CHECKOUT_ALREADY_PAID", res.ErrorCode)
}
