package fiscal_test

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/fiscal"
	"github.com/VaXeS13/MP-sub001/internal/terminal"
	"github.com/VaXeS13/MP-sub001/internal/terminal/frame"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// fakePrinter answers each framed job with the scripted reply for its
// message type.
type fakePrinter struct {
	ln       net.Listener
	replies  map[string][]byte
	requests chan *frame.Parsed
}

func newFakePrinter(t *testing.T) *fakePrinter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fp := &fakePrinter{
		ln:       ln,
		replies:  make(map[string][]byte),
		requests: make(chan *frame.Parsed, 16),
	}
	go fp.serve()
	t.Cleanup(func() { ln.Close() })
	return fp
}

func (fp *fakePrinter) serve() {
	for {
		conn, err := fp.ln.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			reader := bufio.NewReader(conn)
			for {
				first, err := reader.ReadByte()
				if err != nil || first != frame.STX {
					return
				}
				body, err := reader.ReadBytes(frame.ETX)
				if err != nil {
					return
				}
				if _, err := reader.ReadByte(); err != nil {
					return
				}
				raw := append([]byte{frame.STX}, body...)
				raw = append(raw, frame.LRC(raw))
				parsed, err := frame.Parse(raw)
				if err != nil {
					return
				}
				fp.requests <- parsed
				if reply, ok := fp.replies[parsed.Type]; ok {
					conn.Write(reply)
				}
			}
		}(conn)
	}
}

func newPrinter(t *testing.T, addr string) *fiscal.Printer {
	t.Helper()
	p, err := fiscal.NewPrinter(testLogger(), terminal.ConnectionSettings{Address: addr})
	require.NoError(t, err)
	require.NoError(t, p.Connect(context.Background()))
	t.Cleanup(func() { p.Close() })
	return p
}

func sampleReceipt() fiscal.Receipt {
	return fiscal.Receipt{
		ReferenceID: "ORDER-1",
		Lines: []fiscal.Line{
			{Name: "Espresso", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("9.50"), VATRate: "A"},
			{Name: "Croissant", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("12.00"), VATRate: "B"},
		},
		Footer: "Thank you",
	}
}

func TestPrintReceipt(t *testing.T) {
	fp := newFakePrinter(t)
	fp.replies["F1"] = frame.Build("R1", "A")

	p := newPrinter(t, fp.ln.Addr().String())
	require.NoError(t, p.PrintReceipt(context.Background(), sampleReceipt()))

	req := <-fp.requests
	require.Equal(t, "F1", req.Type)
	require.Contains(t, req.Payload, "ORDER-1")
	require.Contains(t, req.Payload, "Espresso;2;950;A")
	require.Contains(t, req.Payload, "Croissant;1;1200;B")
}

func TestPrintReceiptRejected(t *testing.T) {
	fp := newFakePrinter(t)
	fp.replies["F1"] = frame.Build("R1", "E21 paper out")

	p := newPrinter(t, fp.ln.Addr().String())
	err := p.PrintReceipt(context.Background(), sampleReceipt())
	require.Error(t, err)
	require.Contains(t, err.Error(), "21 paper out")
}

func TestPrintReceiptRequiresLines(t *testing.T) {
	p, err := fiscal.NewPrinter(testLogger(), terminal.ConnectionSettings{Address: "127.0.0.1:9"})
	require.NoError(t, err)
	require.Error(t, p.PrintReceipt(context.Background(), fiscal.Receipt{ReferenceID: "X"}))
}

func TestPrinterStatus(t *testing.T) {
	fp := newFakePrinter(t)
	fp.replies["F2"] = frame.Build("R2", "1101")

	p := newPrinter(t, fp.ln.Addr().String())
	status, err := p.Status(context.Background())
	require.NoError(t, err)
	require.True(t, status.Online)
	require.True(t, status.PaperLow)
	require.False(t, status.CoverOpen)
	require.True(t, status.FiscalMode)
}

func TestDailyReport(t *testing.T) {
	fp := newFakePrinter(t)
	fp.replies["F3"] = frame.Build("R3", "Z0042;1234550;318")

	p := newPrinter(t, fp.ln.Addr().String())
	report, err := p.DailyReport(context.Background(), "20260830")
	require.NoError(t, err)
	require.Equal(t, "Z0042", report.ReportNumber)
	require.True(t, report.GrossTotal.Equal(decimal.RequireFromString("12345.50")))
	require.Equal(t, 318, report.ReceiptCount)

	req := <-fp.requests
	require.Equal(t, "F3", req.Type)
	require.Equal(t, "20260830", req.Payload)
}

func TestLineTotal(t *testing.T) {
	line := fiscal.Line{Quantity: decimal.NewFromInt(3), UnitPrice: decimal.RequireFromString("9.50")}
	require.True(t, line.Total().Equal(decimal.RequireFromString("28.50")))
}
