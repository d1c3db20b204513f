package providers

import (
	"time"

	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
)

// Verifone VIPA over the LAN protocol: default port 12000. VIPA terminals
// answer management messages faster than the Telium line, hence the tighter
// ceiling.
func init() {
	Register("verifone_vipa", func(logger *slog.Logger, settings terminal.TenantSettings) (Provider, error) {
		return newBinaryProvider(logger, settings, binaryProtocol{
			vendor:        "verifone_vipa",
			defaultPort:   12000,
			payMsg:        "V1",
			refundMsg:     "V2",
			cancelMsg:     "V3",
			statusMsg:     "V4",
			payTimeout:    60 * time.Second,
			manageTimeout: 10 * time.Second,
		})
	})
}
