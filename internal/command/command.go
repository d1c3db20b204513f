package command

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Device classes a command can target.
const (
	DeviceTerminal      = "terminal"
	DeviceFiscalPrinter = "fiscal_printer"
)

// Command types understood by the on-site agent.
const (
	TypeAuthorize     = "terminal.authorize"
	TypeCapture       = "terminal.capture"
	TypeRefund        = "terminal.refund"
	TypeCancel        = "terminal.cancel"
	TypePaymentStatus = "terminal.payment_status"
	TypeCheckStatus   = "terminal.check_status"

	TypePrintReceipt  = "printer.print_receipt"
	TypePrinterStatus = "printer.status"
	TypeDailyReport   = "printer.daily_report"
)

// Envelope is the unit of work shipped from the cloud proxy to the on-site
// agent. CommandID correlates the eventual Response back to the caller.
type Envelope struct {
	CommandID uuid.UUID       `json:"command_id"`
	TenantID  uuid.UUID       `json:"tenant_id"`
	Device    string          `json:"device"`
	Type      string          `json:"type"`
	IssuedAt  time.Time       `json:"issued_at"`
	Timeout   time.Duration   `json:"timeout,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Response travels back over the same channel, matched by CommandID.
type Response struct {
	CommandID          uuid.UUID       `json:"command_id"`
	Success            bool            `json:"success"`
	ProcessedAt        time.Time       `json:"processed_at"`
	ProcessingDuration time.Duration   `json:"processing_duration"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	ErrorCode          string          `json:"error_code,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
}

// DecodePayload unmarshals the envelope payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, dst)
}

// DecodePayload unmarshals the response payload into dst.
func (r Response) DecodePayload(dst any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(r.Payload, dst)
}

// New mints an envelope with a fresh CommandID and the payload marshalled
// in place. The tenant is stamped later, by the proxy.
func New(device, typ string, payload any) (Envelope, error) {
	env := Envelope{
		CommandID: uuid.New(),
		Device:    device,
		Type:      typ,
		IssuedAt:  time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}

// Failed builds an error response for an envelope. Device-side failures are
// reported this way; they never surface as transport errors to the caller.
func Failed(commandID uuid.UUID, code, message string) Response {
	return Response{
		CommandID:    commandID,
		Success:      false,
		ProcessedAt:  time.Now().UTC(),
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// Succeeded builds a success response carrying the marshalled payload.
func Succeeded(commandID uuid.UUID, started time.Time, payload any) (Response, error) {
	resp := Response{
		CommandID:          commandID,
		Success:            true,
		ProcessedAt:        time.Now().UTC(),
		ProcessingDuration: time.Since(started),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Response{}, err
		}
		resp.Payload = raw
	}
	return resp, nil
}
