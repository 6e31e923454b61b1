package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThePrimedTNT/astolfo/internal/bot"
	"github.com/ThePrimedTNT/astolfo/internal/chatbot"
	"github.com/ThePrimedTNT/astolfo/internal/config"
	"github.com/ThePrimedTNT/astolfo/internal/logging"
	"github.com/ThePrimedTNT/astolfo/internal/modules"
	"github.com/ThePrimedTNT/astolfo/internal/settings"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "astolfo:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	log := logging.Setup(cfg.LogLevel, cfg.LogFile)
	log.Info().Msg("Starting astolfo bot...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := settings.Open(cfg.StoragePath)
	if err != nil {
		return err
	}
	defer store.Close()

	provider, err := chatbot.New(cfg.ChatbotProvider, cfg.ChatbotURL)
	if err != nil {
		return err
	}

	tree := modules.Tree(cfg, cancel)

	errCh := make(chan error, 1)
	go func() {
		if err := bot.New(cfg, store, tree, provider, log).Run(ctx); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("Shutting down...")
		cancel()
	case err := <-errCh:
		cancel()
		if err != nil {
			return err
		}
	}

	log.Info().Msg("Bot exited cleanly")
	return nil
}
