package agent_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/VaXeS13/MP-sub001/agent"
	"github.com/VaXeS13/MP-sub001/deviceproxy"
	"github.com/VaXeS13/MP-sub001/internal/command"
	"github.com/VaXeS13/MP-sub001/internal/terminal"
)

// Spins up the agent's channel endpoint and talks to it through the proxy's
// real websocket client.
func startChannel(t *testing.T, tenantID uuid.UUID, providerConfig, token string) *deviceproxy.Proxy {
	t.Helper()
	exec, _ := newExecutor(t, tenantID, providerConfig)
	server := agent.NewChannelServer(testLogger(), exec, token)

	router := chi.NewRouter()
	server.AppendRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/agent/channel"
	channel := deviceproxy.NewWSChannel(testLogger(), wsURL, token)

	proxy := deviceproxy.New(testLogger(), channel, func(ctx context.Context) (uuid.UUID, error) {
		return tenantID, nil
	})
	proxy.SetTimeout(5 * time.Second)
	t.Cleanup(func() { proxy.Close() })

	require.Eventually(t, func() bool {
		return proxy.IsDeviceAvailable(context.Background(), command.DeviceTerminal)
	}, 5*time.Second, 50*time.Millisecond, "channel never came up")

	return proxy
}

func TestChannelRoundTrip(t *testing.T) {
	tenantID := uuid.New()
	proxy := startChannel(t, tenantID, `{}`, "")

	res, err := proxy.AuthorizePayment(context.Background(), terminal.PaymentRequest{
		Amount:      decimal.RequireFromString("100.00"),
		Currency:    "PLN",
		ReferenceID: "ORDER-1",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, terminal.StatusApproved, res.Status)
	require.Equal(t, "LOOP_1", res.TransactionID)

	capture, err := proxy.CapturePayment(context.Background(), res.TransactionID, decimal.RequireFromString("100.00"))
	require.NoError(t, err)
	require.True(t, capture.Success)

	refund, err := proxy.RefundPayment(context.Background(), res.TransactionID, decimal.RequireFromString("100.00"), "customer returned goods")
	require.NoError(t, err)
	require.Equal(t, terminal.StatusRefunded, refund.Status)
	require.NotEqual(t, res.TransactionID, refund.TransactionID)
}

func TestChannelDeclineOverWire(t *testing.T) {
	tenantID := uuid.New()
	proxy := startChannel(t, tenantID, `{"decline": true}`, "")

	res, err := proxy.AuthorizePayment(context.Background(), terminal.PaymentRequest{
		Amount:   decimal.RequireFromString("50.00"),
		Currency: "PLN",
	})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "51", res.ErrorCode)
	require.Equal(t, "Insufficient funds", res.ErrorMessage)
}

func TestChannelRejectsBadToken(t *testing.T) {
	tenantID := uuid.New()
	exec, _ := newExecutor(t, tenantID, `{}`)
	server := agent.NewChannelServer(testLogger(), exec, "secret")

	router := chi.NewRouter()
	server.AppendRoutes(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/agent/channel"
	channel := deviceproxy.NewWSChannel(testLogger(), wsURL, "wrong")
	defer channel.Close()

	proxy := deviceproxy.New(testLogger(), channel, func(ctx context.Context) (uuid.UUID, error) {
		return tenantID, nil
	})
	defer proxy.Close()

	// The channel never connects, so the probe must answer false.
	require.False(t, proxy.IsDeviceAvailable(context.Background(), command.DeviceTerminal))
}
