package terminal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses shared across provider implementations. Vendors report
// their own status strings; providers normalize terminal outcomes to these.
const (
	StatusApproved  = "Approved"
	StatusDeclined  = "Declined"
	StatusCancelled = "Cancelled"
	StatusTimeout   = "Timeout"
	StatusPending   = "Pending"
	StatusError     = "Error"
	StatusRefunded  = "Refunded"
	StatusUnknown   = "Unknown"
)

// Technical error codes used when the failure is ours, not the card's.
const (
	ErrCodeNoResponse    = "NO_RESPONSE"
	ErrCodeTerminalError = "TERMINAL_ERROR"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeDeviceOffline = "DEVICE_OFFLINE"
)

// PaymentRequest is the vendor-neutral payment request handed to a provider.
// It is a value type; providers never mutate it.
type PaymentRequest struct {
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	ReferenceID    string            `json:"referenceId,omitempty"`
	Description    string            `json:"description,omitempty"`
	ItemName       string            `json:"itemName,omitempty"`
	AdditionalData map[string]string `json:"additionalData,omitempty"`
}

// PaymentResult is the only payment artifact allowed to cross back into
// application code. Raw card data must never appear in it; MaskedPan keeps
// at most the last 4 digits and SafeMetadata is restricted to non-sensitive
// vendor-neutral pairs (enforced by the pci package).
type PaymentResult struct {
	Success           bool              `json:"success"`
	TransactionID     string            `json:"transactionId,omitempty"`
	AuthorizationCode string            `json:"authorizationCode,omitempty"`
	Status            string            `json:"status"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
	CardBrand         string            `json:"cardBrand,omitempty"`
	MaskedPan         string            `json:"maskedPan,omitempty"`
	IsP2PECompliant   bool              `json:"isP2PECompliant"`
	SafeMetadata      map[string]string `json:"safeMetadata,omitempty"`
	ErrorCode         string            `json:"errorCode,omitempty"`
	ErrorMessage      string            `json:"errorMessage,omitempty"`
}

// FailedResult builds the canonical failure shape providers return for
// declines, transport faults and timeouts alike.
func FailedResult(status, errCode, errMessage string) *PaymentResult {
	return &PaymentResult{
		Success:         false,
		Status:          status,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: true,
		ErrorCode:       errCode,
		ErrorMessage:    errMessage,
	}
}

// MaskPAN reduces a PAN-shaped string to "****" + its last 4 digits.
// Anything shorter than 4 characters is masked entirely.
func MaskPAN(pan string) string {
	if pan == "" {
		return ""
	}
	digits := make([]byte, 0, len(pan))
	for i := 0; i < len(pan); i++ {
		if pan[i] >= '0' && pan[i] <= '9' {
			digits = append(digits, pan[i])
		}
	}
	if len(digits) < 4 {
		return "****"
	}
	return "****" + string(digits[len(digits)-4:])
}
