// Package main provides the interactive BaseX console.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xqlabs/basex-go/internal/config"
	"github.com/xqlabs/basex-go/internal/console"
	"github.com/xqlabs/basex-go/pkg/client"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	host := flag.String("host", "", "Server host (default from config)")
	port := flag.Int("port", 0, "Server port (default from config)")
	user := flag.String("user", "", "Username (default from config)")
	pass := flag.String("pass", "", "Password (default from config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// BASEX_* variables may come from a .env file in the working directory.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}

	zerolog.SetGlobalLevel(cfg.Level())
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	opts := cfg.ClientOptions()
	if *host != "" {
		opts.Host = *host
	}
	if *port != 0 {
		opts.Port = *port
	}
	if *user != "" {
		opts.Username = *user
	}
	if *pass != "" {
		opts.Password = *pass
	}
	opts.Logger = &log.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	session, err := client.Dial(ctx, opts)
	if err != nil {
		log.Fatal().Err(err).Str("addr", opts.Addr()).Msg("Failed to connect")
	}
	defer session.Close(context.Background())

	log.Info().Str("addr", opts.Addr()).Str("version", Version).Msg("Connected")

	if err := console.New(session, os.Stdin, os.Stdout).Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Console failed")
	}
}
