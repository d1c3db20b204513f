package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
)

var ErrTenantUnknown = fmt.Errorf("tenant has no registered devices")

// DeviceSettings describes the devices installed for one tenant.
type DeviceSettings struct {
	Terminal *TerminalSettings `json:"terminal,omitempty"`
	Printer  *PrinterSettings  `json:"printer,omitempty"`
}

// TerminalSettings names the payment provider and how to reach the device.
type TerminalSettings struct {
	Provider string          `json:"provider"`
	Address  string          `json:"address"`
	Token    string          `json:"token,omitempty"`
	Timeout  time.Duration   `json:"timeout,omitempty"`
	Currency string          `json:"currency,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// PrinterSettings locates the fiscal printer.
type PrinterSettings struct {
	Address string        `json:"address"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// SettingsStore is a file-backed registry of tenant devices. Reload swaps
// the whole map, so readers never see a partial file.
type SettingsStore struct {
	path string

	mu      sync.RWMutex
	tenants map[uuid.UUID]DeviceSettings
}

func NewSettingsStore(path string) (*SettingsStore, error) {
	s := &SettingsStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the settings file.
func (s *SettingsStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading device settings: %w", err)
	}
	var raw map[string]DeviceSettings
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing device settings: %w", err)
	}
	tenants := make(map[uuid.UUID]DeviceSettings, len(raw))
	for key, devices := range raw {
		id, err := uuid.Parse(key)
		if err != nil {
			return fmt.Errorf("device settings: bad tenant id %q: %w", key, err)
		}
		tenants[id] = devices
	}
	s.mu.Lock()
	s.tenants = tenants
	s.mu.Unlock()
	return nil
}

// Tenant returns the device settings for a tenant.
func (s *SettingsStore) Tenant(id uuid.UUID) (DeviceSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	devices, ok := s.tenants[id]
	if !ok {
		return DeviceSettings{}, fmt.Errorf("tenant %s: %w", id, ErrTenantUnknown)
	}
	return devices, nil
}

// TenantCount reports how many tenants are configured.
func (s *SettingsStore) TenantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants)
}

// TerminalFor resolves the provider settings a terminal command needs.
func (s *SettingsStore) TerminalFor(id uuid.UUID) (terminal.TenantSettings, terminal.ConnectionSettings, error) {
	devices, err := s.Tenant(id)
	if err != nil {
		return terminal.TenantSettings{}, terminal.ConnectionSettings{}, err
	}
	if devices.Terminal == nil {
		return terminal.TenantSettings{}, terminal.ConnectionSettings{},
			fmt.Errorf("tenant %s has no terminal configured", id)
	}
	t := devices.Terminal
	tenant := terminal.TenantSettings{
		TenantID: id,
		Provider: t.Provider,
		Config:   t.Config,
		Currency: t.Currency,
	}
	conn := terminal.ConnectionSettings{
		Address: t.Address,
		Token:   t.Token,
		Timeout: t.Timeout,
	}
	return tenant, conn, nil
}

// PrinterFor resolves the fiscal printer connection for a tenant.
func (s *SettingsStore) PrinterFor(id uuid.UUID) (terminal.ConnectionSettings, error) {
	devices, err := s.Tenant(id)
	if err != nil {
		return terminal.ConnectionSettings{}, err
	}
	if devices.Printer == nil {
		return terminal.ConnectionSettings{}, fmt.Errorf("tenant %s has no printer configured", id)
	}
	return terminal.ConnectionSettings{
		Address: devices.Printer.Address,
		Timeout: devices.Printer.Timeout,
	}, nil
}
