package providers

import (
	"time"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
)

// Default operation timeouts for the cloud family. Authorization waits for a
// customer to physically tap a card, so it gets the long ceiling.
const (
	restAuthorizeTimeout = 90 * time.Second
	restManageTimeout    = 30 * time.Second
	restStatusTimeout    = 10 * time.Second
)

// noResponse converts a transport-level failure into the canonical failed
// result. Vendor exceptions never escape the provider boundary.
func noResponse(err error) *terminal.PaymentResult {
	return terminal.FailedResult(terminal.StatusError, terminal.ErrCodeNoResponse, err.Error())
}

// timeoutResult is the shape returned when polling exhausts its attempt
// ceiling without observing a terminal status.
func timeoutResult(message string) *terminal.PaymentResult {
	return terminal.FailedResult(terminal.StatusTimeout, terminal.ErrCodeTimeout, message)
}

// autoCapturedResult answers Capture for vendors that capture on
// authorization: a no-op success that never touches the transport.
func autoCapturedResult(transactionID string) *terminal.PaymentResult {
	return &terminal.PaymentResult{
		Success:         true,
		TransactionID:   transactionID,
		Status:          terminal.StatusApproved,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: true,
		SafeMetadata:    map[string]string{"capture": "automatic"},
	}
}
