package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/command"
	"github.com/VaXeS13/MP-sub001/internal/fiscal"
	"github.com/VaXeS13/MP-sub001/internal/pci"
	"github.com/VaXeS13/MP-sub001/internal/terminal"
	"github.com/VaXeS13/MP-sub001/internal/terminal/providers"
)

// ErrCodePCIViolation marks responses rejected by the compliance guard.
const ErrCodePCIViolation = "PCI_VIOLATION"

// Executor runs command envelopes against the tenant's physical devices.
// Each command gets a fresh provider session; terminals hold no state
// between commands and a wedged session must not poison the next one.
type Executor struct {
	logger   *slog.Logger
	settings *SettingsStore
	repo     *Repository
	journal  *Journal
}

func NewExecutor(logger *slog.Logger, settings *SettingsStore, repo *Repository, journal *Journal) *Executor {
	return &Executor{
		logger:   logger.With(slog.String("component", "executor")),
		settings: settings,
		repo:     repo,
		journal:  journal,
	}
}

// Execute runs one envelope and always produces a response. Device and
// provider failures become failed responses; only the compliance guard and
// storage can make this method report an error response with its own code.
func (e *Executor) Execute(ctx context.Context, env command.Envelope) command.Response {
	started := time.Now()

	// Replayed commands are answered from the stored outcome.
	if rec, err := e.repo.FindCommand(ctx, env.CommandID.String()); err == nil {
		e.logger.Info("replaying recorded command",
			slog.String("command_id", env.CommandID.String()))
		return rec.Response()
	}

	if env.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, env.Timeout)
		defer cancel()
	}

	var resp command.Response
	switch env.Device {
	case command.DeviceTerminal:
		resp = e.executeTerminal(ctx, env, started)
	case command.DeviceFiscalPrinter:
		resp = e.executePrinter(ctx, env, started)
	default:
		resp = command.Failed(env.CommandID, terminal.ErrCodeTerminalError,
			fmt.Sprintf("unknown device class %q", env.Device))
	}
	resp.ProcessingDuration = time.Since(started)

	e.record(ctx, env, resp)
	if e.journal != nil {
		e.journal.Append(env, resp)
	}
	return resp
}

func (e *Executor) executeTerminal(ctx context.Context, env command.Envelope, started time.Time) command.Response {
	tenant, conn, err := e.settings.TerminalFor(env.TenantID)
	if err != nil {
		return command.Failed(env.CommandID, terminal.ErrCodeDeviceOffline, err.Error())
	}

	provider, err := providers.New(e.logger, tenant)
	if err != nil {
		return command.Failed(env.CommandID, terminal.ErrCodeTerminalError,
			fmt.Sprintf("building provider %q: %v", tenant.Provider, err))
	}
	defer provider.Close()

	if err := provider.Initialize(ctx, conn); err != nil {
		return command.Failed(env.CommandID, terminal.ErrCodeDeviceOffline,
			fmt.Sprintf("initializing terminal: %v", err))
	}

	switch env.Type {
	case command.TypeAuthorize:
		var p command.AuthorizePayload
		if err := env.DecodePayload(&p); err != nil {
			return badPayload(env, err)
		}
		res, err := provider.AuthorizePayment(ctx, p.Request)
		return e.paymentResponse(env, started, res, err)

	case command.TypeCapture:
		var p command.CapturePayload
		if err := env.DecodePayload(&p); err != nil {
			return badPayload(env, err)
		}
		res, err := provider.CapturePayment(ctx, p.TransactionID, p.Amount)
		return e.paymentResponse(env, started, res, err)

	case command.TypeRefund:
		var p command.RefundPayload
		if err := env.DecodePayload(&p); err != nil {
			return badPayload(env, err)
		}
		res, err := provider.RefundPayment(ctx, p.TransactionID, p.Amount, p.Reason)
		return e.paymentResponse(env, started, res, err)

	case command.TypeCancel:
		var p command.CancelPayload
		if err := env.DecodePayload(&p); err != nil {
			return badPayload(env, err)
		}
		res, err := provider.CancelPayment(ctx, p.TransactionID)
		return e.paymentResponse(env, started, res, err)

	case command.TypePaymentStatus:
		var p command.PaymentStatusPayload
		if err := env.DecodePayload(&p); err != nil {
			return badPayload(env, err)
		}
		status, err := provider.PaymentStatus(ctx, p.TransactionID)
		if err != nil {
			return command.Failed(env.CommandID, terminal.ErrCodeTerminalError, err.Error())
		}
		return succeeded(env, started, command.PaymentStatusResult{Status: status})

	case command.TypeCheckStatus:
		// The probe never fails the response; an unreachable device is a
		// successful "not available" answer.
		available, err := provider.CheckTerminalStatus(ctx)
		out := command.DeviceStatusResult{Available: available && err == nil}
		if err != nil {
			out.Detail = err.Error()
		}
		return succeeded(env, started, out)

	default:
		return command.Failed(env.CommandID, terminal.ErrCodeTerminalError,
			fmt.Sprintf("unknown terminal command %q", env.Type))
	}
}

func (e *Executor) executePrinter(ctx context.Context, env command.Envelope, started time.Time) command.Response {
	conn, err := e.settings.PrinterFor(env.TenantID)
	if err != nil {
		return command.Failed(env.CommandID, terminal.ErrCodeDeviceOffline, err.Error())
	}
	printer, err := fiscal.NewPrinter(e.logger, conn)
	if err != nil {
		return command.Failed(env.CommandID, terminal.ErrCodeTerminalError, err.Error())
	}

	// Status probes answer offline instead of failing on connect errors.
	if err := printer.Connect(ctx); err != nil {
		if env.Type == command.TypeCheckStatus || env.Type == command.TypePrinterStatus {
			return succeeded(env, started, command.DeviceStatusResult{
				Available: false,
				Detail:    err.Error(),
			})
		}
		return command.Failed(env.CommandID, terminal.ErrCodeDeviceOffline,
			fmt.Sprintf("connecting to printer: %v", err))
	}
	defer printer.Close()

	switch env.Type {
	case command.TypePrintReceipt:
		var p command.PrintReceiptPayload
		if err := env.DecodePayload(&p); err != nil {
			return badPayload(env, err)
		}
		if err := printer.PrintReceipt(ctx, p.Receipt); err != nil {
			return command.Failed(env.CommandID, terminal.ErrCodeTerminalError, err.Error())
		}
		return succeeded(env, started, nil)

	case command.TypePrinterStatus:
		status, err := printer.Status(ctx)
		if err != nil {
			return command.Failed(env.CommandID, terminal.ErrCodeTerminalError, err.Error())
		}
		return succeeded(env, started, status)

	case command.TypeCheckStatus:
		status, err := printer.Status(ctx)
		out := command.DeviceStatusResult{Available: err == nil && status.Online}
		if err != nil {
			out.Detail = err.Error()
		}
		return succeeded(env, started, out)

	case command.TypeDailyReport:
		var p command.DailyReportPayload
		if err := env.DecodePayload(&p); err != nil {
			return badPayload(env, err)
		}
		report, err := printer.DailyReport(ctx, p.Date)
		if err != nil {
			return command.Failed(env.CommandID, terminal.ErrCodeTerminalError, err.Error())
		}
		return succeeded(env, started, report)

	default:
		return command.Failed(env.CommandID, terminal.ErrCodeTerminalError,
			fmt.Sprintf("unknown printer command %q", env.Type))
	}
}

// paymentResponse folds a provider call into a response. A compliance
// violation keeps its own error code so upstream can tell it apart from
// device faults.
func (e *Executor) paymentResponse(env command.Envelope, started time.Time, res *terminal.PaymentResult, err error) command.Response {
	if err != nil {
		var cerr *pci.ComplianceError
		if errors.As(err, &cerr) {
			e.logger.Error("payment blocked by compliance guard",
				slog.String("command_id", env.CommandID.String()),
				slog.String("reason", cerr.Reason))
			return command.Failed(env.CommandID, ErrCodePCIViolation, cerr.Error())
		}
		return command.Failed(env.CommandID, terminal.ErrCodeDeviceOffline, err.Error())
	}
	return succeeded(env, started, command.PaymentResultPayload{Result: *res})
}

func (e *Executor) record(ctx context.Context, env command.Envelope, resp command.Response) {
	rec := &CommandRecord{
		CommandID:    env.CommandID.String(),
		TenantID:     env.TenantID.String(),
		Device:       env.Device,
		Type:         env.Type,
		Success:      resp.Success,
		ErrorCode:    resp.ErrorCode,
		ErrorMessage: resp.ErrorMessage,
		Payload:      resp.Payload,
		ProcessedAt:  resp.ProcessedAt,
	}
	if err := e.repo.RecordCommand(ctx, rec); err != nil && !errors.Is(err, ErrConflict) {
		e.logger.Error("recording command",
			slog.String("command_id", env.CommandID.String()),
			slog.String("error", err.Error()))
	}
}

func succeeded(env command.Envelope, started time.Time, payload any) command.Response {
	resp, err := command.Succeeded(env.CommandID, started, payload)
	if err != nil {
		return command.Failed(env.CommandID, terminal.ErrCodeTerminalError,
			fmt.Sprintf("encoding response: %v", err))
	}
	return resp
}

func badPayload(env command.Envelope, err error) command.Response {
	return command.Failed(env.CommandID, terminal.ErrCodeTerminalError,
		fmt.Sprintf("decoding %s payload: %v", env.Type, err))
}
