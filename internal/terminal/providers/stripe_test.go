package providers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
	"github.com/VaXeS13/MP-sub001/internal/terminal/providers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// stripeStub fakes the three endpoints the provider touches: intent
// creation, reader handoff, and intent polling.
type stripeStub struct {
	mu          sync.Mutex
	requests    map[string]int
	intent      map[string]any
	pollsToDone int
	polled      int
}

func newStripeStub() *stripeStub {
	return &stripeStub{requests: make(map[string]int)}
}

func (s *stripeStub) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[key]
}

func (s *stripeStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests["create"]++
		s.mu.Unlock()
		require.NoError(t, r.ParseForm())
		require.Equal(t, "10000", r.PostForm.Get("amount"))
		require.Equal(t, "pln", r.PostForm.Get("currency"))
		json.NewEncoder(w).Encode(map[string]any{"id": "pi_123", "status": "requires_payment_method", "amount": 10000})
	})
	mux.HandleFunc("/v1/terminal/readers/tmr_1/process_payment_intent", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests["handoff"]++
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"id": "pi_123", "status": "requires_payment_method"})
	})
	mux.HandleFunc("/v1/payment_intents/pi_123", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests["poll"]++
		s.polled++
		done := s.polled > s.pollsToDone
		s.mu.Unlock()
		if !done {
			json.NewEncoder(w).Encode(map[string]any{"id": "pi_123", "status": "processing", "amount": 10000})
			return
		}
		json.NewEncoder(w).Encode(s.intent)
	})
	return mux
}

func newStripeProvider(t *testing.T, baseURL string, config string) providers.Provider {
	t.Helper()
	p, err := providers.New(testLogger(), terminal.TenantSettings{
		Provider: "stripe",
		Config:   json.RawMessage(config),
		Currency: "PLN",
	})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background(), terminal.ConnectionSettings{
		Address: baseURL,
		Token:   "sk_test_123",
	}))
	t.Cleanup(func() { p.Close() })
	return p
}

func TestStripeAuthorizeApproved(t *testing.T) {
	restore := providers.SetPollInterval(time.Millisecond)
	defer restore()

	stub := newStripeStub()
	stub.pollsToDone = 2
	stub.intent = map[string]any{
		"id": "pi_123", "status": "succeeded", "amount": 10000, "currency": "pln",
		"charges": map[string]any{"data": []map[string]any{{
			"id": "ch_1",
			"payment_method_details": map[string]any{"card_present": map[string]any{
				"brand": "visa", "last4": "4242",
			}},
		}}},
	}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	p := newStripeProvider(t, srv.URL, `{"reader_id":"tmr_1"}`)
	res, err := p.AuthorizePayment(context.Background(), terminal.PaymentRequest{
		Amount:      decimal.RequireFromString("100.00"),
		Currency:    "PLN",
		ReferenceID: "ORDER-1",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, terminal.StatusApproved, res.Status)
	require.Equal(t, "pi_123", res.TransactionID)
	require.Equal(t, "ch_1", res.AuthorizationCode)
	require.Equal(t, "visa", res.CardBrand)
	require.Equal(t, "****4242", res.MaskedPan)
	require.True(t, res.Amount.Equal(decimal.RequireFromString("100.00")))
	require.Equal(t, 1, stub.count("create"))
	require.Equal(t, 1, stub.count("handoff"))
	require.GreaterOrEqual(t, stub.count("poll"), 3)
}

func TestStripeAuthorizePollingIsBounded(t *testing.T) {
	restore := providers.SetPollInterval(time.Millisecond)
	defer restore()

	stub := newStripeStub()
	stub.pollsToDone = 1 << 30 // never completes
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	p := newStripeProvider(t, srv.URL, `{"reader_id":"tmr_1","poll_attempts":5}`)
	res, err := p.AuthorizePayment(context.Background(), terminal.PaymentRequest{
		Amount:   decimal.RequireFromString("100.00"),
		Currency: "PLN",
	})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, terminal.StatusTimeout, res.Status)
	require.Equal(t, terminal.ErrCodeTimeout, res.ErrorCode)
	require.Equal(t, 5, stub.count("poll"))
}

func TestStripeDeclineDuringPollingKeepsCode(t *testing.T) {
	restore := providers.SetPollInterval(time.Millisecond)
	defer restore()

	stub := newStripeStub()
	stub.pollsToDone = 2
	stub.intent = map[string]any{
		"id": "pi_123", "status": "requires_payment_method", "amount": 10000,
		"last_payment_error": map[string]any{
			"code": "card_declined", "decline_code": "insufficient_funds",
			"message": "Your card has insufficient funds.",
		},
	}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	p := newStripeProvider(t, srv.URL, `{"reader_id":"tmr_1"}`)
	res, err := p.AuthorizePayment(context.Background(), terminal.PaymentRequest{
		Amount:   decimal.RequireFromString("100.00"),
		Currency: "PLN",
	})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, terminal.StatusDeclined, res.Status)
	require.Equal(t, "insufficient_funds", res.ErrorCode)
	require.Equal(t, "Your card has insufficient funds.", res.ErrorMessage)
}

func TestStripeVendorErrorDuringPollingIsNotExhaustion(t *testing.T) {
	restore := providers.SetPollInterval(time.Millisecond)
	defer restore()

	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "pi_123", "status": "requires_payment_method"})
	})
	mux.HandleFunc("/v1/terminal/readers/tmr_1/process_payment_intent", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "pi_123"})
	})
	mux.HandleFunc("/v1/payment_intents/pi_123", func(w http.ResponseWriter, r *http.Request) {
		polls++
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
			"code": "card_declined", "decline_code": "expired_card",
			"message": "Your card has expired.",
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newStripeProvider(t, srv.URL, `{"reader_id":"tmr_1","poll_attempts":10}`)
	res, err := p.AuthorizePayment(context.Background(), terminal.PaymentRequest{
		Amount:   decimal.RequireFromString("100.00"),
		Currency: "PLN",
	})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, terminal.StatusDeclined, res.Status)
	require.Equal(t, "expired_card", res.ErrorCode)
	require.Equal(t, "Your card has expired.", res.ErrorMessage)
	require.Equal(t, 1, polls)
}

func TestStripeVendorDeclineIsTranslated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
			"code": "card_declined", "decline_code": "insufficient_funds",
			"message": "Your card has insufficient funds.",
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newStripeProvider(t, srv.URL, `{"reader_id":"tmr_1"}`)
	res, err := p.AuthorizePayment(context.Background(), terminal.PaymentRequest{
		Amount:   decimal.RequireFromString("100.00"),
		Currency: "PLN",
	})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, terminal.StatusDeclined, res.Status)
	require.Equal(t, "insufficient_funds", res.ErrorCode)
	require.Equal(t, "Your card has insufficient funds.", res.ErrorMessage)
}

func TestStripeCaptureIsLocalNoOp(t *testing.T) {
	// No server at all: capture must not touch the network.
	p := newStripeProvider(t, "http://127.0.0.1:0", `{"reader_id":"tmr_1"}`)
	res, err := p.CapturePayment(context.Background(), "pi_123", decimal.RequireFromString("100.00"))
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "pi_123", res.TransactionID)
	require.Equal(t, "automatic", res.SafeMetadata["capture"])
}

func TestStripeRefundAllocatesFreshReference(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/refunds", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "pi_123", r.PostForm.Get("payment_intent"))
		json.NewEncoder(w).Encode(map[string]any{"id": "re_900", "status": "succeeded"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newStripeProvider(t, srv.URL, `{"reader_id":"tmr_1"}`)
	res, err := p.RefundPayment(context.Background(), "pi_123", decimal.RequireFromString("100.00"), "requested_by_customer")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, terminal.StatusRefunded, res.Status)
	require.Equal(t, "re_900", res.TransactionID)
	require.NotEqual(t, "pi_123", res.TransactionID)
}

func TestStripeRefundZeroDecimalCurrency(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/refunds", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		// JPY has no minor unit, so 50 yen goes on the wire as 50.
		require.Equal(t, "50", r.PostForm.Get("amount"))
		json.NewEncoder(w).Encode(map[string]any{"id": "re_901", "status": "succeeded"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := providers.New(testLogger(), terminal.TenantSettings{
		Provider: "stripe",
		Config:   json.RawMessage(`{"reader_id":"tmr_1"}`),
		Currency: "JPY",
	})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background(), terminal.ConnectionSettings{Address: srv.URL, Token: "sk_test_123"}))
	defer p.Close()

	res, err := p.RefundPayment(context.Background(), "pi_123", decimal.NewFromInt(50), "")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "re_901", res.TransactionID)
}

func TestStripeCheckTerminalStatus(t *testing.T) {
	online := true
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/terminal/readers/tmr_1", func(w http.ResponseWriter, r *http.Request) {
		status := "offline"
		if online {
			status = "online"
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "tmr_1", "status": status})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newStripeProvider(t, srv.URL, `{"reader_id":"tmr_1"}`)

	ok, err := p.CheckTerminalStatus(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	online = false
	ok, err = p.CheckTerminalStatus(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStripeRequiresReaderID(t *testing.T) {
	_, err := providers.New(testLogger(), terminal.TenantSettings{Provider: "stripe"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "reader_id")
}

func TestUnknownProvider(t *testing.T) {
	_, err := providers.New(testLogger(), terminal.TenantSettings{Provider: "acme_pos"})
	require.ErrorIs(t, err, providers.ErrNoProvider)
	require.Contains(t, err.Error(), "acme_pos")
}

func TestRegisteredProviders(t *testing.T) {
	for _, name := range []string{"stripe", "square", "adyen", "sumup", "nets", "ingenico_telium", "verifone_vipa", "pax_iso8583"} {
		require.True(t, providers.Registered(name), fmt.Sprintf("provider %s missing", name))
	}
}
