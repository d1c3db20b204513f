package providers

import (
	"time"

	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
)

// Ingenico Telium over the LAN protocol: default port 8800, 90 s for the
// sale exchange (the customer is at the PIN pad), short for management.
func init() {
	Register("ingenico_telium", func(logger *slog.Logger, settings terminal.TenantSettings) (Provider, error) {
		return newBinaryProvider(logger, settings, binaryProtocol{
			vendor:        "ingenico_telium",
			defaultPort:   8800,
			payMsg:        "T1",
			refundMsg:     "T2",
			cancelMsg:     "T3",
			statusMsg:     "T4",
			payTimeout:    90 * time.Second,
			manageTimeout: 30 * time.Second,
		})
	})
}
