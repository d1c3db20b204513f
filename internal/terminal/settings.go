package terminal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConnectionSettings describes one connection attempt to a terminal or its
// cloud gateway. Immutable once handed to a provider's Initialize.
type ConnectionSettings struct {
	// Address is a base URL for REST vendors or "host:port" for TCP vendors.
	Address string        `json:"address"`
	Token   string        `json:"token,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// TenantSettings selects and configures the terminal provider for one tenant.
// Config is the vendor-specific section, decoded by the provider itself.
// Providers treat the whole struct as read-only.
type TenantSettings struct {
	TenantID uuid.UUID       `json:"tenantId"`
	Provider string          `json:"provider"`
	Config   json.RawMessage `json:"config,omitempty"`
	Currency string          `json:"currency"`
}

// DecodeConfig unmarshals the vendor-specific section into dst.
func (s TenantSettings) DecodeConfig(dst any) error {
	if len(s.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(s.Config, dst); err != nil {
		return fmt.Errorf("decoding %s provider config: %w", s.Provider, err)
	}
	return nil
}
