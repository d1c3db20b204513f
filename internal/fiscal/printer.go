package fiscal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
	"github.com/VaXeS13/MP-sub001/internal/terminal/frame"
	"github.com/VaXeS13/MP-sub001/internal/terminal/transport"
)

// Message types of the printer's LAN protocol. The printer answers with
// the same STX/ETX/LRC framing the payment terminals use.
const (
	msgPrintReceipt = "F1"
	msgStatus       = "F2"
	msgDailyReport  = "F3"
)

const (
	defaultPort    = 9100
	defaultTimeout = 30 * time.Second
)

// Receipt is the printable content of a fiscal receipt.
type Receipt struct {
	ReferenceID string `json:"reference_id"`
	Lines       []Line `json:"lines"`
	Footer      string `json:"footer,omitempty"`
}

// Line is a single item on a receipt.
type Line struct {
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	VATRate   string          `json:"vat_rate"`
}

// Total returns the gross amount of the line.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(l.Quantity)
}

// Status is the printer's self-reported state.
type Status struct {
	Online     bool   `json:"online"`
	PaperLow   bool   `json:"paper_low"`
	CoverOpen  bool   `json:"cover_open"`
	FiscalMode bool   `json:"fiscal_mode"`
	Detail     string `json:"detail,omitempty"`
}

// Report is the outcome of a daily (Z) report.
type Report struct {
	ReportNumber string          `json:"report_number"`
	GrossTotal   decimal.Decimal `json:"gross_total"`
	ReceiptCount int             `json:"receipt_count"`
}

// Printer drives a LAN fiscal printer. Not safe for concurrent use; the
// agent serializes printer commands.
type Printer struct {
	logger *slog.Logger
	tr     transport.Transport
}

func NewPrinter(logger *slog.Logger, settings terminal.ConnectionSettings) (*Printer, error) {
	addr := settings.Address
	if addr == "" {
		return nil, fmt.Errorf("fiscal: printer address is required")
	}
	if !strings.Contains(addr, ":") {
		addr = fmt.Sprintf("%s:%d", addr, defaultPort)
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Printer{
		logger: logger.With(slog.String("component", "fiscal-printer")),
		tr:     transport.NewTCP(addr, timeout),
	}, nil
}

func (p *Printer) Connect(ctx context.Context) error {
	return p.tr.Connect(ctx)
}

func (p *Printer) Close() error {
	return p.tr.Close()
}

// PrintReceipt sends the receipt as one framed job. Lines ride as
// semicolon-joined records of name, quantity, unit price and VAT rate.
func (p *Printer) PrintReceipt(ctx context.Context, r Receipt) error {
	if len(r.Lines) == 0 {
		return fmt.Errorf("fiscal: receipt has no lines")
	}
	fields := []string{frame.PadRef(r.ReferenceID), fmt.Sprintf("%03d", len(r.Lines))}
	for _, line := range r.Lines {
		fields = append(fields, strings.Join([]string{
			sanitize(line.Name),
			line.Quantity.String(),
			strconv.FormatInt(terminal.MinorUnits(line.UnitPrice, ""), 10),
			line.VATRate,
		}, ";")+"\n")
	}
	if r.Footer != "" {
		fields = append(fields, sanitize(r.Footer))
	}
	parsed, err := p.exchange(ctx, msgPrintReceipt, fields...)
	if err != nil {
		return err
	}
	if len(parsed.Payload) == 0 || parsed.Payload[0] != 'A' {
		return fmt.Errorf("fiscal: printer rejected receipt %s: %s", r.ReferenceID, printerError(parsed.Payload))
	}
	p.logger.Info("receipt printed", slog.String("reference_id", r.ReferenceID))
	return nil
}

// Status queries the printer. The reply payload is four status flags in
// fixed positions: online, paper low, cover open, fiscal mode.
func (p *Printer) Status(ctx context.Context) (Status, error) {
	parsed, err := p.exchange(ctx, msgStatus)
	if err != nil {
		return Status{Online: false, Detail: err.Error()}, nil
	}
	if len(parsed.Payload) < 4 {
		return Status{}, fmt.Errorf("fiscal: short status payload: %q", parsed.Payload)
	}
	return Status{
		Online:     parsed.Payload[0] == '1',
		PaperLow:   parsed.Payload[1] == '1',
		CoverOpen:  parsed.Payload[2] == '1',
		FiscalMode: parsed.Payload[3] == '1',
	}, nil
}

// DailyReport closes the fiscal day. The printer answers with the report
// number, gross total in minor units and receipt count.
func (p *Printer) DailyReport(ctx context.Context, date string) (Report, error) {
	if date == "" {
		date = time.Now().Format("20060102")
	}
	parsed, err := p.exchange(ctx, msgDailyReport, date)
	if err != nil {
		return Report{}, err
	}
	parts := strings.Split(strings.TrimSpace(parsed.Payload), ";")
	if len(parts) < 3 {
		return Report{}, fmt.Errorf("fiscal: malformed report payload: %q", parsed.Payload)
	}
	minor, err := frame.ParseAmount(parts[1])
	if err != nil {
		return Report{}, fmt.Errorf("fiscal: parsing report total: %w", err)
	}
	count, err := strconv.Atoi(parts[2])
	if err != nil {
		return Report{}, fmt.Errorf("fiscal: parsing receipt count: %w", err)
	}
	return Report{
		ReportNumber: parts[0],
		GrossTotal:   terminal.FromMinorUnits(minor, ""),
		ReceiptCount: count,
	}, nil
}

func (p *Printer) exchange(ctx context.Context, msgType string, fields ...string) (*frame.Parsed, error) {
	raw, err := p.tr.SendAndReceive(ctx, frame.Build(msgType, fields...))
	if err != nil {
		return nil, fmt.Errorf("fiscal: printer exchange: %w", err)
	}
	parsed, err := frame.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("fiscal: printer answered garbage: %w", err)
	}
	return parsed, nil
}

func printerError(payload string) string {
	if len(payload) > 1 {
		return strings.TrimSpace(payload[1:])
	}
	return "unspecified printer error"
}

// sanitize strips framing control characters from printable text.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 {
			return -1
		}
		return r
	}, s)
}
