package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/lottopos/terminal/internal/cart"
	"github.com/lottopos/terminal/internal/config"
	"github.com/lottopos/terminal/internal/endpoint"
	"github.com/lottopos/terminal/internal/games"
	"github.com/lottopos/terminal/internal/gateway"
	"github.com/lottopos/terminal/internal/protocol"
	"github.com/lottopos/terminal/internal/state"
	"github.com/lottopos/terminal/internal/transport"
)

func main() {
	configPath := flag.String("config", "terminal.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("role", cfg.Role).
		Str("channel", cfg.Channel).
		Str("http_addr", cfg.HTTPAddr).
		Msg("starting lottery terminal")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog := games.Default()
	clock := clockwork.NewRealClock()

	rootRouter := mux.NewRouter()
	var endpoints []*endpoint.Endpoint

	if cfg.Role == "both" {
		// Single-process dual-display mode: both endpoints share an
		// in-process bus. Used when both screens hang off one box.
		bus := transport.NewBus()
		defer bus.Close()

		primary := buildDisplay(ctx, cfg, protocol.RolePrimary, bus.Endpoint(), catalog, clock, rootRouter, cfg.StatePath)
		secondary := buildDisplay(ctx, cfg, protocol.RoleSecondary, bus.Endpoint(), catalog, clock,
			rootRouter.PathPrefix("/secondary").Subrouter(), "")
		endpoints = append(endpoints, primary, secondary)
	} else {
		role := protocol.Role(cfg.Role)
		tr := transport.Connect(transport.NATSConfig{
			URL:            cfg.NATSURL,
			Channel:        cfg.Channel,
			ConnectTimeout: 2 * time.Second,
			ReconnectWait:  2 * time.Second,
		})
		defer tr.Close()

		ep := buildDisplay(ctx, cfg, role, tr, catalog, clock, rootRouter, cfg.StatePath)
		endpoints = append(endpoints, ep)
	}

	for _, ep := range endpoints {
		if err := ep.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("role", string(ep.Role())).Msg("endpoint failed to start")
		}
		defer ep.Close()
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      h2c.NewHandler(corsMiddleware.Handler(rootRouter), &http2.Server{}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	cancel()

	log.Info().Msg("terminal stopped")
}

// buildDisplay wires one display endpoint and its UI gateway onto the given
// router. statePath may be empty to skip persistence.
func buildDisplay(ctx context.Context, cfg config.Config, role protocol.Role, tr transport.Transport,
	catalog *games.Catalog, clock clockwork.Clock, r *mux.Router, statePath string) *endpoint.Endpoint {

	var persist state.Persister
	if statePath != "" {
		p, err := state.OpenSQLite(statePath)
		if err != nil {
			log.Warn().Err(err).Str("path", statePath).Msg("state persistence unavailable")
		} else {
			persist = p
		}
	}

	store := state.NewStore(persist)
	store.LoadPersisted()

	ep := endpoint.New(endpoint.Config{
		Role:              role,
		HeartbeatInterval: cfg.HeartbeatInterval,
		TimeoutWindow:     cfg.TimeoutWindow,
	}, tr, store, cart.NewMemory(), catalog, clock)

	hub := gateway.NewHub(gateway.DefaultHubConfig())
	store.OnApply(hub.PushState)
	ep.OnPeerChange(hub.PushPeer)
	go hub.Run(ctx)

	gateway.NewService(hub, ep, catalog).RegisterRoutes(r)
	return ep
}
