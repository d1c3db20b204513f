package providers

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/VaXeS13/MP-sub001/internal/pci"
	"github.com/VaXeS13/MP-sub001/internal/terminal"
)

// guarded wraps a provider so that every payment result passes the PCI
// compliance check before it leaves the provider boundary. Compliance
// errors propagate to the caller; they are the one error class this layer
// never converts to a failed result.
type guarded struct {
	inner Provider
}

func (g *guarded) Initialize(ctx context.Context, conn terminal.ConnectionSettings) error {
	return g.inner.Initialize(ctx, conn)
}

func (g *guarded) AuthorizePayment(ctx context.Context, req terminal.PaymentRequest) (*terminal.PaymentResult, error) {
	return guard(g.inner.AuthorizePayment(ctx, req))
}

func (g *guarded) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal) (*terminal.PaymentResult, error) {
	return guard(g.inner.CapturePayment(ctx, transactionID, amount))
}

func (g *guarded) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*terminal.PaymentResult, error) {
	return guard(g.inner.RefundPayment(ctx, transactionID, amount, reason))
}

func (g *guarded) CancelPayment(ctx context.Context, transactionID string) (*terminal.PaymentResult, error) {
	return guard(g.inner.CancelPayment(ctx, transactionID))
}

func (g *guarded) PaymentStatus(ctx context.Context, transactionID string) (string, error) {
	return g.inner.PaymentStatus(ctx, transactionID)
}

func (g *guarded) CheckTerminalStatus(ctx context.Context) (bool, error) {
	return g.inner.CheckTerminalStatus(ctx)
}

func (g *guarded) Close() error {
	return g.inner.Close()
}

func guard(res *terminal.PaymentResult, err error) (*terminal.PaymentResult, error) {
	if err != nil {
		return res, err
	}
	if err := pci.Validate(res); err != nil {
		return nil, err
	}
	return res, nil
}
