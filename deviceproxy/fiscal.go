package deviceproxy

import (
	"context"
	"fmt"

	"github.com/VaXeS13/MP-sub001/internal/command"
	"github.com/VaXeS13/MP-sub001/internal/fiscal"
)

// PrintReceipt sends a fiscal receipt to the tenant's printer.
func (p *Proxy) PrintReceipt(ctx context.Context, receipt fiscal.Receipt) (command.Response, error) {
	env, err := command.New(command.DeviceFiscalPrinter, command.TypePrintReceipt,
		command.PrintReceiptPayload{Receipt: receipt})
	if err != nil {
		return command.Response{}, fmt.Errorf("building command: %w", err)
	}
	return p.Execute(ctx, env)
}

// PrinterStatus reports the fiscal printer's state.
func (p *Proxy) PrinterStatus(ctx context.Context) (command.PrinterStatusResult, error) {
	env, err := command.New(command.DeviceFiscalPrinter, command.TypePrinterStatus, nil)
	if err != nil {
		return command.PrinterStatusResult{}, fmt.Errorf("building command: %w", err)
	}
	resp, err := p.Execute(ctx, env)
	if err != nil {
		return command.PrinterStatusResult{}, err
	}
	if !resp.Success {
		return command.PrinterStatusResult{Online: false, Detail: resp.ErrorMessage}, nil
	}
	var out command.PrinterStatusResult
	if err := resp.DecodePayload(&out); err != nil {
		return command.PrinterStatusResult{}, fmt.Errorf("decoding printer status: %w", err)
	}
	return out, nil
}

// DailyReport closes the fiscal day with a Z report.
func (p *Proxy) DailyReport(ctx context.Context, date string) (command.DailyReportResult, error) {
	env, err := command.New(command.DeviceFiscalPrinter, command.TypeDailyReport,
		command.DailyReportPayload{Date: date})
	if err != nil {
		return command.DailyReportResult{}, fmt.Errorf("building command: %w", err)
	}
	resp, err := p.Execute(ctx, env)
	if err != nil {
		return command.DailyReportResult{}, err
	}
	if !resp.Success {
		return command.DailyReportResult{}, fmt.Errorf("daily report failed: %s: %s", resp.ErrorCode, resp.ErrorMessage)
	}
	var out command.DailyReportResult
	if err := resp.DecodePayload(&out); err != nil {
		return command.DailyReportResult{}, fmt.Errorf("decoding report: %w", err)
	}
	return out, nil
}
