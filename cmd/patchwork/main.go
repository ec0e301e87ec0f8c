package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/patchwork/cmd/patchwork/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel the running command on interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received interrupt signal, shutting down...")
		cancel()
	}()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if err == nil {
		return
	}

	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			log.Error().Err(exitErr.Err).Msg("Command execution failed")
		}
		os.Exit(exitErr.Code)
	}
	log.Error().Err(err).Msg("Command execution failed")
	os.Exit(1)
}

// setupLogging configures the global zerolog logger used before the
// configuration is loaded.
func setupLogging() {
	level := zerolog.InfoLevel
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}
