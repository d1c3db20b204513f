package agent_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/agent"
	"github.com/VaXeS13/MP-sub001/internal/command"
	"github.com/VaXeS13/MP-sub001/internal/terminal"
	"github.com/VaXeS13/MP-sub001/internal/terminal/providers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// loopback is an in-process provider so executor tests need no device.
type loopbackConfig struct {
	Decline bool `json:"decline,omitempty"`
	LeakPAN bool `json:"leak_pan,omitempty"`
	Offline bool `json:"offline,omitempty"`
}

type loopbackProvider struct {
	cfg loopbackConfig
}

func init() {
	providers.Register("loopback", func(logger *slog.Logger, settings terminal.TenantSettings) (providers.Provider, error) {
		var cfg loopbackConfig
		if err := settings.DecodeConfig(&cfg); err != nil {
			return nil, err
		}
		return &loopbackProvider{cfg: cfg}, nil
	})
}

func (p *loopbackProvider) Initialize(ctx context.Context, conn terminal.ConnectionSettings) error {
	if p.cfg.Offline {
		return fmt.Errorf("loopback: device unreachable")
	}
	return nil
}

func (p *loopbackProvider) AuthorizePayment(ctx context.Context, req terminal.PaymentRequest) (*terminal.PaymentResult, error) {
	if p.cfg.Decline {
		return terminal.FailedResult(terminal.StatusDeclined, "51", "Insufficient funds"), nil
	}
	res := &terminal.PaymentResult{
		Success:         true,
		Status:          terminal.StatusApproved,
		TransactionID:   "LOOP_1",
		Amount:          req.Amount,
		Currency:        req.Currency,
		Timestamp:       time.Now().UTC(),
		MaskedPan:       "****1234",
		IsP2PECompliant: true,
	}
	if p.cfg.LeakPAN {
		res.MaskedPan = "4111111111111234"
	}
	return res, nil
}

func (p *loopbackProvider) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal) (*terminal.PaymentResult, error) {
	return &terminal.PaymentResult{Success: true, Status: terminal.StatusApproved, TransactionID: transactionID, IsP2PECompliant: true}, nil
}

func (p *loopbackProvider) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*terminal.PaymentResult, error) {
	return &terminal.PaymentResult{Success: true, Status: terminal.StatusRefunded, TransactionID: "LOOP_R_1", IsP2PECompliant: true}, nil
}

func (p *loopbackProvider) CancelPayment(ctx context.Context, transactionID string) (*terminal.PaymentResult, error) {
	return &terminal.PaymentResult{Success: true, Status: terminal.StatusCancelled, TransactionID: transactionID, IsP2PECompliant: true}, nil
}

func (p *loopbackProvider) PaymentStatus(ctx context.Context, transactionID string) (string, error) {
	return terminal.StatusApproved, nil
}

func (p *loopbackProvider) CheckTerminalStatus(ctx context.Context) (bool, error) {
	return !p.cfg.Offline, nil
}

func (p *loopbackProvider) Close() error { return nil }

func writeSettings(t *testing.T, tenantID uuid.UUID, providerConfig string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.json")
	content := fmt.Sprintf(`{%q: {"terminal": {"provider": "loopback", "address": "127.0.0.1:9", "currency": "PLN", "config": %s}}}`,
		tenantID, providerConfig)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newExecutor(t *testing.T, tenantID uuid.UUID, providerConfig string) (*agent.Executor, *agent.Repository) {
	t.Helper()
	settings, err := agent.NewSettingsStore(writeSettings(t, tenantID, providerConfig))
	require.NoError(t, err)
	repo := agent.NewRepository()
	journal, err := agent.OpenJournal(testLogger(), filepath.Join(t.TempDir(), "journal"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	return agent.NewExecutor(testLogger(), settings, repo, journal), repo
}

func authorizeEnvelope(t *testing.T, tenantID uuid.UUID) command.Envelope {
	t.Helper()
	env, err := command.New(command.DeviceTerminal, command.TypeAuthorize, command.AuthorizePayload{
		Request: terminal.PaymentRequest{
			Amount:   decimal.RequireFromString("100.00"),
			Currency: "PLN",
		},
	})
	require.NoError(t, err)
	env.TenantID = tenantID
	return env
}

func TestExecutorAuthorize(t *testing.T) {
	tenantID := uuid.New()
	exec, repo := newExecutor(t, tenantID, `{}`)

	resp := exec.Execute(context.Background(), authorizeEnvelope(t, tenantID))
	require.True(t, resp.Success)

	var out command.PaymentResultPayload
	require.NoError(t, resp.DecodePayload(&out))
	require.Equal(t, "LOOP_1", out.Result.TransactionID)
	require.Equal(t, "****1234", out.Result.MaskedPan)

	rec, err := repo.FindCommand(context.Background(), resp.CommandID.String())
	require.NoError(t, err)
	require.True(t, rec.Success)
	require.Equal(t, tenantID.String(), rec.TenantID)
}

func TestExecutorDeclineIsASuccessfulResponse(t *testing.T) {
	tenantID := uuid.New()
	exec, _ := newExecutor(t, tenantID, `{"decline": true}`)

	resp := exec.Execute(context.Background(), authorizeEnvelope(t, tenantID))
	require.True(t, resp.Success, "a decline is a processed command, not an agent failure")

	var out command.PaymentResultPayload
	require.NoError(t, resp.DecodePayload(&out))
	require.False(t, out.Result.Success)
	require.Equal(t, "51", out.Result.ErrorCode)
	require.Equal(t, "Insufficient funds", out.Result.ErrorMessage)
}

func TestExecutorReplaysRecordedCommand(t *testing.T) {
	tenantID := uuid.New()
	exec, _ := newExecutor(t, tenantID, `{}`)

	env := authorizeEnvelope(t, tenantID)
	first := exec.Execute(context.Background(), env)
	second := exec.Execute(context.Background(), env)

	require.Equal(t, first.CommandID, second.CommandID)
	require.Equal(t, first.Payload, second.Payload)
}

func TestExecutorOfflineDevice(t *testing.T) {
	tenantID := uuid.New()
	exec, _ := newExecutor(t, tenantID, `{"offline": true}`)

	resp := exec.Execute(context.Background(), authorizeEnvelope(t, tenantID))
	require.False(t, resp.Success)
	require.Equal(t, terminal.ErrCodeDeviceOffline, resp.ErrorCode)
}

func TestExecutorBlocksPANLeak(t *testing.T) {
	tenantID := uuid.New()
	exec, _ := newExecutor(t, tenantID, `{"leak_pan": true}`)

	resp := exec.Execute(context.Background(), authorizeEnvelope(t, tenantID))
	require.False(t, resp.Success)
	require.Equal(t, agent.ErrCodePCIViolation, resp.ErrorCode)
	require.Contains(t, resp.ErrorMessage, "16 digits")
}

func TestExecutorUnknownTenant(t *testing.T) {
	exec, _ := newExecutor(t, uuid.New(), `{}`)

	resp := exec.Execute(context.Background(), authorizeEnvelope(t, uuid.New()))
	require.False(t, resp.Success)
	require.Equal(t, terminal.ErrCodeDeviceOffline, resp.ErrorCode)
}

func TestExecutorCheckStatus(t *testing.T) {
	tenantID := uuid.New()
	exec, _ := newExecutor(t, tenantID, `{}`)

	env, err := command.New(command.DeviceTerminal, command.TypeCheckStatus, nil)
	require.NoError(t, err)
	env.TenantID = tenantID

	resp := exec.Execute(context.Background(), env)
	require.True(t, resp.Success)

	var out command.DeviceStatusResult
	require.NoError(t, resp.DecodePayload(&out))
	require.True(t, out.Available)
}

func TestSettingsStoreReload(t *testing.T) {
	tenantID := uuid.New()
	path := writeSettings(t, tenantID, `{}`)
	store, err := agent.NewSettingsStore(path)
	require.NoError(t, err)
	require.Equal(t, 1, store.TenantCount())

	other := uuid.New()
	content := fmt.Sprintf(`{%q: {"terminal": {"provider": "loopback", "address": "x"}}, %q: {"printer": {"address": "y"}}}`, tenantID, other)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, store.Reload())
	require.Equal(t, 2, store.TenantCount())

	_, err = store.PrinterFor(other)
	require.NoError(t, err)
	_, _, err = store.TerminalFor(other)
	require.Error(t, err)
}

func TestSettingsStoreRejectsBadTenantID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not-a-uuid": {}}`), 0o644))
	_, err := agent.NewSettingsStore(path)
	require.Error(t, err)
}

func TestRepositoryConflictOnDuplicateCommand(t *testing.T) {
	repo := agent.NewRepository()
	rec := &agent.CommandRecord{
		CommandID:   uuid.New().String(),
		TenantID:    uuid.New().String(),
		Device:      command.DeviceTerminal,
		Type:        command.TypeAuthorize,
		Success:     true,
		Payload:     json.RawMessage(`{}`),
		ProcessedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.RecordCommand(context.Background(), rec))
	err := repo.RecordCommand(context.Background(), rec)
	require.ErrorIs(t, err, agent.ErrConflict)

	listed, err := repo.ListCommands(context.Background(), rec.TenantID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestJournalTail(t *testing.T) {
	journal, err := agent.OpenJournal(testLogger(), filepath.Join(t.TempDir(), "journal"))
	require.NoError(t, err)
	defer journal.Close()

	for i := 0; i < 3; i++ {
		env, err := command.New(command.DeviceTerminal, command.TypeCancel, command.CancelPayload{TransactionID: fmt.Sprintf("TRX_%d", i)})
		require.NoError(t, err)
		journal.Append(env, command.Failed(env.CommandID, terminal.ErrCodeTimeout, "test"))
	}

	entries, err := journal.Tail(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var p command.CancelPayload
	require.NoError(t, entries[0].Envelope.DecodePayload(&p))
	require.Equal(t, "TRX_2", p.TransactionID, "newest entry first")
}
