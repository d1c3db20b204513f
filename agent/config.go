package agent

// Config is a configuration for the on-site agent application
type Config struct {
	HTTPAddr string
	// SettingsPath points at the JSON file mapping tenants to their devices.
	SettingsPath string
	// JournalPath is the directory for the local command journal.
	JournalPath string
	// ChannelToken, when set, is required as a bearer token on the
	// websocket channel.
	ChannelToken string
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:     "localhost:9090",
		SettingsPath: "devices.json",
		JournalPath:  "journal",
	}
}
