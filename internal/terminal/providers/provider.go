// Package providers contains one terminal payment provider per vendor,
// resolved by name through a registry. Providers are transient: a fresh
// instance is constructed for every command so no vendor state survives
// across tenants or requests.
package providers

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
)

// Provider is the vendor-neutral terminal payment contract.
//
// Vendor declines, transport faults and timeouts are all converted to a
// failed PaymentResult at this boundary; provider methods only return a
// non-nil error for compliance violations and programming mistakes.
type Provider interface {
	// Initialize opens the provider's transport using the connection
	// settings. Must be called before any payment operation.
	Initialize(ctx context.Context, conn terminal.ConnectionSettings) error

	AuthorizePayment(ctx context.Context, req terminal.PaymentRequest) (*terminal.PaymentResult, error)
	CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal) (*terminal.PaymentResult, error)
	RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*terminal.PaymentResult, error)
	CancelPayment(ctx context.Context, transactionID string) (*terminal.PaymentResult, error)

	// PaymentStatus reports the vendor's view of a transaction.
	PaymentStatus(ctx context.Context, transactionID string) (string, error)

	// CheckTerminalStatus probes whether the physical terminal is
	// reachable and ready.
	CheckTerminalStatus(ctx context.Context) (bool, error)

	// Close releases the transport. Called on every exit path.
	Close() error
}

// NewFunc constructs a provider for one tenant's settings.
type NewFunc func(logger *slog.Logger, settings terminal.TenantSettings) (Provider, error)
