package command

import (
	"github.com/shopspring/decimal"

	"github.com/VaXeS13/MP-sub001/internal/fiscal"
	"github.com/VaXeS13/MP-sub001/internal/terminal"
)

// AuthorizePayload carries a payment request to the device.
type AuthorizePayload struct {
	Request terminal.PaymentRequest `json:"request"`
}

// CapturePayload completes a previously authorized payment.
type CapturePayload struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// RefundPayload returns funds for a settled payment.
type RefundPayload struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason,omitempty"`
}

// CancelPayload voids an authorization before settlement.
type CancelPayload struct {
	TransactionID string `json:"transaction_id"`
}

// PaymentStatusPayload asks the device for the state of a transaction.
type PaymentStatusPayload struct {
	TransactionID string `json:"transaction_id"`
}

// PaymentResultPayload is the response body for every payment command.
type PaymentResultPayload struct {
	Result terminal.PaymentResult `json:"result"`
}

// PaymentStatusResult is the response body for a status query.
type PaymentStatusResult struct {
	Status string `json:"status"`
}

// DeviceStatusResult is the response body for a device health check.
type DeviceStatusResult struct {
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// PrintReceiptPayload sends a fiscal receipt to the printer.
type PrintReceiptPayload struct {
	Receipt fiscal.Receipt `json:"receipt"`
}

// PrinterStatusResult is the response body for a printer status query.
type PrinterStatusResult = fiscal.Status

// DailyReportPayload requests a Z report closing the fiscal day.
type DailyReportPayload struct {
	Date string `json:"date,omitempty"`
}

// DailyReportResult is the response body for a Z report.
type DailyReportResult = fiscal.Report
