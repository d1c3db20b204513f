package main

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/agent"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout))

	config := agent.DefaultConfig()
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		config.HTTPAddr = v
	}
	if v := os.Getenv("DEVICE_SETTINGS"); v != "" {
		config.SettingsPath = v
	}
	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		config.JournalPath = v
	}
	config.ChannelToken = os.Getenv("CHANNEL_TOKEN")

	app := agent.NewApp(logger, config)
	if err := app.Start(); err != nil {
		logger.Error("starting agent", "err", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	app.Shutdown()
}
