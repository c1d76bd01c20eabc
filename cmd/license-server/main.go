package main

import (
	"context"
	"log/slog"
	"os"

	"licensegate/internal/app"
	"licensegate/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	server, err := app.NewAuthorityServer(context.Background(), cfg, nil)
	if err != nil {
		slog.Error("Failed to initialize license server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		slog.Error("License server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
