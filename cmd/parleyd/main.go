// parleyd serves the session API over HTTP for web and voice front-ends.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/parleybot/parley/common/environment"
	"github.com/parleybot/parley/common/version"
	"github.com/parleybot/parley/internal/parley/api"
	"github.com/parleybot/parley/internal/parley/app"
	"github.com/parleybot/parley/internal/parley/config"
	"github.com/parleybot/parley/internal/parley/llm"
)

func main() {
	// Local development convenience; a missing .env file is fine.
	_ = godotenv.Load()

	fmt.Printf("parleyd %s (%s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	apiKey, err := environment.RequiredString("PARLEY_API_KEY")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	profile := config.Default()
	if path := environment.StringOr("PARLEY_PROFILE", ""); path != "" {
		profile, err = config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	manager, err := app.New(app.Config{
		Profile:    profile,
		Credential: llm.NewCredential(apiKey),
		BaseURL:    environment.StringOr("PARLEY_API_BASE", ""),
		DBPath:     environment.StringOr("PARLEY_DB", "./parley.db"),
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	addr := environment.StringOr("PARLEY_LISTEN", ":8484")
	handler := api.New(manager, logger)

	logger.Info("listening", "addr", addr)
	if err := http.ListenAndServe(addr, handler.Router()); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	switch environment.StringOr("PARLEY_LOG_LEVEL", "info") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
