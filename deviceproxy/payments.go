package deviceproxy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/VaXeS13/MP-sub001/internal/command"
	"github.com/VaXeS13/MP-sub001/internal/terminal"
)

// AuthorizePayment runs a sale on the tenant's terminal.
func (p *Proxy) AuthorizePayment(ctx context.Context, req terminal.PaymentRequest) (*terminal.PaymentResult, error) {
	return p.paymentCommand(ctx, command.TypeAuthorize, command.AuthorizePayload{Request: req})
}

// CapturePayment completes a previously authorized payment.
func (p *Proxy) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal) (*terminal.PaymentResult, error) {
	return p.paymentCommand(ctx, command.TypeCapture, command.CapturePayload{
		TransactionID: transactionID,
		Amount:        amount,
	})
}

// RefundPayment returns funds for a settled payment.
func (p *Proxy) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*terminal.PaymentResult, error) {
	return p.paymentCommand(ctx, command.TypeRefund, command.RefundPayload{
		TransactionID: transactionID,
		Amount:        amount,
		Reason:        reason,
	})
}

// CancelPayment voids an authorization before settlement.
func (p *Proxy) CancelPayment(ctx context.Context, transactionID string) (*terminal.PaymentResult, error) {
	return p.paymentCommand(ctx, command.TypeCancel, command.CancelPayload{TransactionID: transactionID})
}

// PaymentStatus asks the terminal for the current state of a transaction.
func (p *Proxy) PaymentStatus(ctx context.Context, transactionID string) (string, error) {
	env, err := command.New(command.DeviceTerminal, command.TypePaymentStatus,
		command.PaymentStatusPayload{TransactionID: transactionID})
	if err != nil {
		return "", fmt.Errorf("building command: %w", err)
	}
	resp, err := p.Execute(ctx, env)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return terminal.StatusUnknown, nil
	}
	var out command.PaymentStatusResult
	if err := resp.DecodePayload(&out); err != nil {
		return "", fmt.Errorf("decoding status response: %w", err)
	}
	return out.Status, nil
}

// GetDeviceStatus reports whether a device answers its health check,
// together with any detail the agent attached.
func (p *Proxy) GetDeviceStatus(ctx context.Context, device string) (command.DeviceStatusResult, error) {
	env, err := command.New(device, command.TypeCheckStatus, nil)
	if err != nil {
		return command.DeviceStatusResult{}, fmt.Errorf("building command: %w", err)
	}
	resp, err := p.Execute(ctx, env)
	if err != nil {
		return command.DeviceStatusResult{}, err
	}
	if !resp.Success {
		return command.DeviceStatusResult{Available: false, Detail: resp.ErrorMessage}, nil
	}
	var out command.DeviceStatusResult
	if err := resp.DecodePayload(&out); err != nil {
		return command.DeviceStatusResult{}, fmt.Errorf("decoding status response: %w", err)
	}
	return out, nil
}

// IsDeviceAvailable is the boolean form of GetDeviceStatus. It absorbs
// every failure mode, panics included, and answers false instead.
func (p *Proxy) IsDeviceAvailable(ctx context.Context, device string) (available bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("device availability probe panicked",
				"device", device, "panic", fmt.Sprint(r))
			available = false
		}
	}()
	status, err := p.GetDeviceStatus(ctx, device)
	if err != nil {
		return false
	}
	return status.Available
}

// paymentCommand ships a payment envelope and unwraps the result. A failed
// response becomes a failed PaymentResult so callers see one shape.
func (p *Proxy) paymentCommand(ctx context.Context, typ string, payload any) (*terminal.PaymentResult, error) {
	env, err := command.New(command.DeviceTerminal, typ, payload)
	if err != nil {
		return nil, fmt.Errorf("building command: %w", err)
	}
	resp, err := p.Execute(ctx, env)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return terminal.FailedResult(terminal.StatusError, resp.ErrorCode, resp.ErrorMessage), nil
	}
	var out command.PaymentResultPayload
	if err := resp.DecodePayload(&out); err != nil {
		return nil, fmt.Errorf("decoding payment response: %w", err)
	}
	return &out.Result, nil
}
