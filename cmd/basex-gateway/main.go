// Package main provides the HTTP gateway in front of a BaseX server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xqlabs/basex-go/internal/config"
	"github.com/xqlabs/basex-go/internal/gateway"
	"github.com/xqlabs/basex-go/pkg/pool"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	addr := flag.String("addr", "", "Listen address (default from config)")
	configPath := flag.String("config", config.Path(), "Config file path")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// BASEX_* variables may come from a .env file in the working directory.
	_ = godotenv.Load()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}

	zerolog.SetGlobalLevel(cfg.Level())
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	listenAddr := cfg.GatewayAddr
	if *addr != "" {
		listenAddr = *addr
	}

	p, err := pool.New(pool.Config{
		Options:     cfg.ClientOptions(),
		MaxSessions: cfg.MaxSessions,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create session pool")
	}
	defer p.Close()

	// Reload server credentials on config file changes; idle sessions are
	// dropped so new connections pick up the new settings.
	stopWatch, err := config.Watch(*configPath, func() {
		reloaded, err := config.LoadFile(*configPath)
		if err != nil {
			log.Warn().Err(err).Msg("Config reload failed, keeping old settings")
			return
		}
		p.Recycle(reloaded.ClientOptions())
		log.Info().Str("addr", reloaded.ClientOptions().Addr()).Msg("Config reloaded, pool recycled")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
	} else {
		defer stopWatch()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down gateway")
		cancel()
	}()

	svc := gateway.New(Version, p, cfg.ClientOptions())
	if err := svc.Run(ctx, listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Gateway failed")
	}
}
