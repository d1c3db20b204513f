package providers

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
	"github.com/VaXeS13/MP-sub001/internal/terminal/frame"
	"github.com/VaXeS13/MP-sub001/internal/terminal/transport"
)

// binaryProtocol captures what differs between the two legacy LAN
// protocols: message type codes, the default port, and how patient each
// operation is.
type binaryProtocol struct {
	vendor        string
	defaultPort   int
	payMsg        string
	refundMsg     string
	cancelMsg     string
	statusMsg     string
	payTimeout    time.Duration
	manageTimeout time.Duration
}

// Approved reply payload layout, shared by both vendors:
// transaction id (20, space-padded) + authorization code (6).
const (
	binTxIDWidth = frame.RefWidth
	binAuthWidth = 6
)

// binaryProvider drives one LAN-attached terminal over the STX/ETX/LRC
// framing. Both vendor implementations are this type with their own
// protocol table.
type binaryProvider struct {
	logger   *slog.Logger
	proto    binaryProtocol
	p2pe     bool
	currency string
	tcp      *transport.TCP
}

type binaryConfig struct {
	P2PECertified *bool `json:"p2pe_certified,omitempty"`
}

func newBinaryProvider(logger *slog.Logger, settings terminal.TenantSettings, proto binaryProtocol) (Provider, error) {
	var cfg binaryConfig
	if err := settings.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	p2pe := true
	if cfg.P2PECertified != nil {
		p2pe = *cfg.P2PECertified
	}
	return &binaryProvider{logger: logger, proto: proto, p2pe: p2pe, currency: settings.Currency}, nil
}

func (p *binaryProvider) Initialize(ctx context.Context, conn terminal.ConnectionSettings) error {
	addr := conn.Address
	if addr == "" {
		return fmt.Errorf("%s: terminal address is required", p.proto.vendor)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = fmt.Sprintf("%s:%d", addr, p.proto.defaultPort)
	}
	timeout := conn.Timeout
	if timeout <= 0 {
		timeout = p.proto.payTimeout
	}
	p.tcp = transport.NewTCP(addr, timeout)
	return p.tcp.Connect(ctx)
}

func (p *binaryProvider) AuthorizePayment(ctx context.Context, req terminal.PaymentRequest) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.proto.payTimeout)
	defer cancel()

	out := frame.Build(p.proto.payMsg,
		frame.PadAmount(terminal.MinorUnits(req.Amount, req.Currency)),
		frame.PadCurrency(terminal.CurrencyNumeric(req.Currency)),
		frame.PadRef(req.ReferenceID),
	)
	parsed, failed := p.exchange(ctx, out)
	if failed != nil {
		return failed, nil
	}
	res := p.saleResult(parsed)
	res.Amount = req.Amount
	res.Currency = req.Currency
	return res, nil
}

// CapturePayment is a local no-op: a Telium-era sale message authorizes and
// captures in one exchange.
func (p *binaryProvider) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal) (*terminal.PaymentResult, error) {
	return autoCapturedResult(transactionID), nil
}

func (p *binaryProvider) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.proto.payTimeout)
	defer cancel()

	// Refund frames carry the tenant currency; amount scaling must match
	// the original sale.
	out := frame.Build(p.proto.refundMsg,
		frame.PadAmount(terminal.MinorUnits(amount, p.currency)),
		frame.PadCurrency(terminal.CurrencyNumeric(p.currency)),
		frame.PadRef(transactionID),
	)
	parsed, failed := p.exchange(ctx, out)
	if failed != nil {
		return failed, nil
	}
	res := p.saleResult(parsed)
	res.Amount = amount
	res.Currency = p.currency
	if res.Success {
		res.Status = terminal.StatusRefunded
		res.SafeMetadata = map[string]string{"refunded_transaction": transactionID}
	}
	return res, nil
}

func (p *binaryProvider) CancelPayment(ctx context.Context, transactionID string) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.proto.manageTimeout)
	defer cancel()

	out := frame.Build(p.proto.cancelMsg, frame.PadRef(transactionID))
	parsed, failed := p.exchange(ctx, out)
	if failed != nil {
		return failed, nil
	}
	res := p.saleResult(parsed)
	if res.Success {
		res.Status = terminal.StatusCancelled
	}
	return res, nil
}

func (p *binaryProvider) PaymentStatus(ctx context.Context, transactionID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.proto.manageTimeout)
	defer cancel()

	out := frame.Build(p.proto.statusMsg, frame.PadRef(transactionID))
	parsed, failed := p.exchange(ctx, out)
	if failed != nil {
		return "", fmt.Errorf("status exchange failed: %s", failed.ErrorMessage)
	}
	switch parsed.Type[0] {
	case 'A':
		return terminal.StatusApproved, nil
	case 'D':
		return terminal.StatusDeclined, nil
	default:
		return terminal.StatusUnknown, nil
	}
}

func (p *binaryProvider) CheckTerminalStatus(ctx context.Context) (bool, error) {
	if p.tcp == nil {
		return false, fmt.Errorf("%s: not initialized", p.proto.vendor)
	}
	if err := p.tcp.Ping(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (p *binaryProvider) Close() error {
	if p.tcp == nil {
		return nil
	}
	return p.tcp.Close()
}

// exchange sends one frame and parses the reply. Transport and framing
// faults come back as failed results, never as panics or raw errors.
func (p *binaryProvider) exchange(ctx context.Context, out []byte) (*frame.Parsed, *terminal.PaymentResult) {
	if p.tcp == nil {
		return nil, terminal.FailedResult(terminal.StatusError, terminal.ErrCodeTerminalError,
			p.proto.vendor+": provider is not initialized")
	}
	raw, err := p.tcp.SendAndReceive(ctx, out)
	if err != nil {
		return nil, noResponse(err)
	}
	parsed, err := frame.Parse(raw)
	if err != nil {
		p.logger.Warn("malformed terminal reply", slog.String("err", err.Error()))
		return nil, terminal.FailedResult(terminal.StatusError, terminal.ErrCodeTerminalError, err.Error())
	}
	return parsed, nil
}

// saleResult interprets an approved/declined reply payload.
func (p *binaryProvider) saleResult(parsed *frame.Parsed) *terminal.PaymentResult {
	res := &terminal.PaymentResult{
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
		SafeMetadata:    map[string]string{"vendor": p.proto.vendor},
	}
	switch parsed.Type[0] {
	case 'A':
		res.Success = true
		res.Status = terminal.StatusApproved
		payload := parsed.Payload
		if len(payload) >= binTxIDWidth {
			res.TransactionID = strings.TrimRight(payload[:binTxIDWidth], " ")
			payload = payload[binTxIDWidth:]
		}
		if len(payload) >= binAuthWidth {
			res.AuthorizationCode = payload[:binAuthWidth]
		}
	case 'D':
		res.Status = terminal.StatusDeclined
		code := parsed.Payload
		if len(code) >= 2 {
			code = code[:2]
		}
		res.ErrorCode = code
		res.ErrorMessage = frame.DeclineReason(code)
	default:
		res.Status = terminal.StatusError
		res.ErrorCode = terminal.ErrCodeTerminalError
		res.ErrorMessage = fmt.Sprintf("unexpected response type %q", parsed.Type)
	}
	return res
}
