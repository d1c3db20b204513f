package providers

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/moov-io/iso8583"
	"github.com/moov-io/iso8583/encoding"
	"github.com/moov-io/iso8583/field"
	"github.com/moov-io/iso8583/padding"
	"github.com/moov-io/iso8583/prefix"
	connection "github.com/moov-io/iso8583-connection"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/security"
	"github.com/VaXeS13/MP-sub001/internal/terminal"
	"github.com/VaXeS13/MP-sub001/internal/terminal/frame"
)

// PAX-class terminals speak ISO 8583 over a length-prefixed TCP stream
// rather than the Telium-era STX/ETX framing. Messages ride the moov
// iso8583 stack; request/response matching is the connection library's job.
const (
	paxDefaultPort = 10009
	paxPayTimeout  = 90 * time.Second
)

func init() {
	Register("pax_iso8583", newPax)
}

// paxSpec is the terminal's field table. Only the fields the LAN protocol
// actually uses are defined.
var paxSpec = &iso8583.MessageSpec{
	Name: "PAX LAN ISO 8583 (ASCII)",
	Fields: map[int]field.Field{
		0: field.NewString(&field.Spec{
			Length:      4,
			Description: "Message Type Indicator",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		1: field.NewBitmap(&field.Spec{
			Length:      8,
			Description: "Bitmap",
			Enc:         encoding.Binary,
			Pref:        prefix.Binary.Fixed,
		}),
		3: field.NewString(&field.Spec{
			Length:      6,
			Description: "Processing Code",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		4: field.NewString(&field.Spec{
			Length:      12,
			Description: "Amount, Transaction",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
			Pad:         padding.Left('0'),
		}),
		11: field.NewString(&field.Spec{
			Length:      6,
			Description: "System Trace Audit Number",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		37: field.NewString(&field.Spec{
			Length:      12,
			Description: "Retrieval Reference Number",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		38: field.NewString(&field.Spec{
			Length:      6,
			Description: "Authorization Code",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		39: field.NewString(&field.Spec{
			Length:      2,
			Description: "Response Code",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		41: field.NewString(&field.Spec{
			Length:      8,
			Description: "Card Acceptor Terminal ID",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		49: field.NewString(&field.Spec{
			Length:      3,
			Description: "Currency Code, Transaction",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		64: field.NewString(&field.Spec{
			Length:      16,
			Description: "MAC",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
		70: field.NewString(&field.Spec{
			Length:      3,
			Description: "Network Management Code",
			Enc:         encoding.ASCII,
			Pref:        prefix.ASCII.Fixed,
		}),
	},
}

type paxConfig struct {
	TerminalID    string `json:"terminal_id"`
	MACKey        string `json:"mac_key,omitempty"`
	P2PECertified *bool  `json:"p2pe_certified,omitempty"`
}

type paxProvider struct {
	logger   *slog.Logger
	cfg      paxConfig
	p2pe     bool
	currency string
	mac      security.MACProvider
	conn     *connection.Connection
}

func newPax(logger *slog.Logger, settings terminal.TenantSettings) (Provider, error) {
	var cfg paxConfig
	if err := settings.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	if cfg.TerminalID == "" {
		return nil, fmt.Errorf("pax_iso8583: terminal_id is required")
	}
	p := &paxProvider{logger: logger, cfg: cfg, p2pe: true, currency: settings.Currency}
	if cfg.P2PECertified != nil {
		p.p2pe = *cfg.P2PECertified
	}
	if cfg.MACKey != "" {
		key, err := hex.DecodeString(cfg.MACKey)
		if err != nil {
			return nil, fmt.Errorf("pax_iso8583: mac_key must be hex: %w", err)
		}
		p.mac = security.NewDemoProvider(key)
	}
	return p, nil
}

// Frames are prefixed with a 2-byte big-endian length.

func paxReadLength(r io.Reader) (int, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, fmt.Errorf("reading message length header: %w", err)
	}
	return int(binary.BigEndian.Uint16(header)), nil
}

func paxWriteLength(w io.Writer, length int) (int, error) {
	header := make([]byte, 2)
	binary.BigEndian.PutUint16(header, uint16(length))
	return w.Write(header)
}

func (p *paxProvider) Initialize(ctx context.Context, connSettings terminal.ConnectionSettings) error {
	addr := connSettings.Address
	if addr == "" {
		return fmt.Errorf("pax_iso8583: terminal address is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = fmt.Sprintf("%s:%d", addr, paxDefaultPort)
	}
	timeout := connSettings.Timeout
	if timeout <= 0 {
		timeout = paxPayTimeout
	}
	c, err := connection.New(addr, paxSpec, paxReadLength, paxWriteLength,
		connection.SendTimeout(timeout),
		connection.IdleTime(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("building iso8583 connection: %w", err)
	}
	if err := c.Connect(); err != nil {
		return fmt.Errorf("connecting to terminal %s: %w", addr, err)
	}
	p.conn = c
	return nil
}

func (p *paxProvider) AuthorizePayment(ctx context.Context, req terminal.PaymentRequest) (*terminal.PaymentResult, error) {
	msg, err := p.newMessage("0200", "000000")
	if err != nil {
		return nil, err
	}
	if err := msg.Field(4, fmt.Sprintf("%012d", terminal.MinorUnits(req.Amount, req.Currency))); err != nil {
		return nil, fmt.Errorf("setting amount: %w", err)
	}
	if err := msg.Field(49, fmt.Sprintf("%03d", terminal.CurrencyNumeric(req.Currency))); err != nil {
		return nil, fmt.Errorf("setting currency: %w", err)
	}
	res := p.send(msg)
	res.Amount = req.Amount
	res.Currency = req.Currency
	return res, nil
}

// CapturePayment is a local no-op: the 0200 financial message is a
// single-message authorization and capture.
func (p *paxProvider) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal) (*terminal.PaymentResult, error) {
	return autoCapturedResult(transactionID), nil
}

func (p *paxProvider) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*terminal.PaymentResult, error) {
	msg, err := p.newMessage("0200", "200000")
	if err != nil {
		return nil, err
	}
	if err := msg.Field(4, fmt.Sprintf("%012d", terminal.MinorUnits(amount, p.currency))); err != nil {
		return nil, fmt.Errorf("setting amount: %w", err)
	}
	if err := msg.Field(49, fmt.Sprintf("%03d", terminal.CurrencyNumeric(p.currency))); err != nil {
		return nil, fmt.Errorf("setting currency: %w", err)
	}
	if err := msg.Field(37, padTo(transactionID, 12)); err != nil {
		return nil, fmt.Errorf("setting reference: %w", err)
	}
	res := p.send(msg)
	res.Amount = amount
	res.Currency = p.currency
	if res.Success {
		res.Status = terminal.StatusRefunded
	}
	return res, nil
}

func (p *paxProvider) CancelPayment(ctx context.Context, transactionID string) (*terminal.PaymentResult, error) {
	msg, err := p.newMessage("0400", "000000")
	if err != nil {
		return nil, err
	}
	if err := msg.Field(37, padTo(transactionID, 12)); err != nil {
		return nil, fmt.Errorf("setting reference: %w", err)
	}
	res := p.send(msg)
	if res.Success {
		res.Status = terminal.StatusCancelled
	}
	return res, nil
}

func (p *paxProvider) PaymentStatus(ctx context.Context, transactionID string) (string, error) {
	msg, err := p.newMessage("0100", "310000")
	if err != nil {
		return "", err
	}
	if err := msg.Field(37, padTo(transactionID, 12)); err != nil {
		return "", fmt.Errorf("setting reference: %w", err)
	}
	res := p.send(msg)
	return res.Status, nil
}

// CheckTerminalStatus runs a 0800 echo test.
func (p *paxProvider) CheckTerminalStatus(ctx context.Context) (bool, error) {
	if p.conn == nil {
		return false, fmt.Errorf("pax_iso8583: not initialized")
	}
	msg := iso8583.NewMessage(paxSpec)
	if err := msg.Field(0, "0800"); err != nil {
		return false, err
	}
	if err := msg.Field(11, newSTAN()); err != nil {
		return false, err
	}
	if err := msg.Field(41, padTo(p.cfg.TerminalID, 8)); err != nil {
		return false, err
	}
	if err := msg.Field(70, "301"); err != nil {
		return false, err
	}
	resp, err := p.conn.Send(msg)
	if err != nil {
		return false, err
	}
	code, err := resp.GetString(39)
	if err != nil {
		return false, err
	}
	return code == "00", nil
}

func (p *paxProvider) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func (p *paxProvider) newMessage(mti, processingCode string) (*iso8583.Message, error) {
	msg := iso8583.NewMessage(paxSpec)
	if err := msg.Field(0, mti); err != nil {
		return nil, fmt.Errorf("setting MTI: %w", err)
	}
	if err := msg.Field(3, processingCode); err != nil {
		return nil, fmt.Errorf("setting processing code: %w", err)
	}
	if err := msg.Field(11, newSTAN()); err != nil {
		return nil, fmt.Errorf("setting STAN: %w", err)
	}
	if err := msg.Field(41, padTo(p.cfg.TerminalID, 8)); err != nil {
		return nil, fmt.Errorf("setting terminal id: %w", err)
	}
	if p.mac != nil {
		packed, err := msg.Pack()
		if err != nil {
			return nil, fmt.Errorf("packing message for MAC: %w", err)
		}
		mac, err := p.mac.MAC(packed)
		if err != nil {
			return nil, fmt.Errorf("computing MAC: %w", err)
		}
		if err := msg.Field(64, hex.EncodeToString(mac)); err != nil {
			return nil, fmt.Errorf("setting MAC: %w", err)
		}
	}
	return msg, nil
}

// send performs the exchange and folds the DE39 result into a payment
// result. Connection faults surface as failed results like everywhere else.
func (p *paxProvider) send(msg *iso8583.Message) *terminal.PaymentResult {
	if p.conn == nil {
		return terminal.FailedResult(terminal.StatusError, terminal.ErrCodeTerminalError,
			"pax_iso8583: provider is not initialized")
	}
	resp, err := p.conn.Send(msg)
	if err != nil {
		return noResponse(err)
	}
	code, err := resp.GetString(39)
	if err != nil {
		return terminal.FailedResult(terminal.StatusError, terminal.ErrCodeTerminalError,
			fmt.Sprintf("response has no result code: %v", err))
	}
	res := &terminal.PaymentResult{
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
		SafeMetadata:    map[string]string{"vendor": "pax_iso8583"},
	}
	res.TransactionID, _ = resp.GetString(37)
	res.AuthorizationCode, _ = resp.GetString(38)
	if code == "00" {
		res.Success = true
		res.Status = terminal.StatusApproved
	} else {
		res.Status = terminal.StatusDeclined
		res.ErrorCode = code
		res.ErrorMessage = frame.DeclineReason(code)
	}
	return res
}

func newSTAN() string {
	return fmt.Sprintf("%06d", rand.Intn(1_000_000))
}

func padTo(s string, width int) string {
	if len(s) > width {
		return s[:width]
	}
	for len(s) < width {
		s += " "
	}
	return s
}
