package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/mcdev12/battlequiz/go/internal/auth"
	"github.com/mcdev12/battlequiz/go/internal/battle"
	"github.com/mcdev12/battlequiz/go/internal/dbconfig"
	"github.com/mcdev12/battlequiz/go/internal/gateway"
	"github.com/mcdev12/battlequiz/go/internal/question"
	"github.com/mcdev12/battlequiz/go/internal/results"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	port := getEnv("PORT", "8082")
	natsURL := getEnv("NATS_URL", "nats://localhost:4222")
	configPath := getEnv("CONFIG_PATH", "config.yaml")

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database configuration
	dbCfg := dbconfig.NewConfigFromEnv()

	pool, err := dbCfg.Pool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	archiveDB, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open archive database")
	}
	defer archiveDB.Close()
	if err := archiveDB.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping archive database")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", natsURL).
		Str("port", port).
		Msg("starting battle quiz server")

	// Result archival: Postgres + battle event stream
	jsCfg := results.DefaultJetStreamConfig()
	jsCfg.URL = natsURL
	publisher, err := results.NewJetStreamPublisher(jsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create result publisher")
	}
	defer publisher.Close()

	recorder := results.NewRecorder(results.NewRepository(archiveDB), publisher)

	// Coordination core
	coordinator := battle.NewCoordinator(
		cfg.battleConfig(),
		clockwork.NewRealClock(),
		question.NewRepository(pool),
		recorder,
	)

	// Gateway: WebSocket transport in front of the coordinator
	gatewayService := gateway.NewService(gateway.DefaultConfig(), coordinator, auth.NewRepository(pool))
	coordinator.SetNotifier(gatewayService.Notifier())
	coordinator.Start(ctx)

	// HTTP server
	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop coordinator timers and give in-flight archival a moment
	cancel()
	time.Sleep(1 * time.Second)

	log.Info().Msg("battle quiz server shutdown complete")
}
