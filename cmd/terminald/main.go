package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flashpay/pos-terminald/internal/actions"
	"github.com/flashpay/pos-terminald/internal/api"
	"github.com/flashpay/pos-terminald/internal/config"
	"github.com/flashpay/pos-terminald/internal/gateway"
	"github.com/flashpay/pos-terminald/internal/session"
	"github.com/flashpay/pos-terminald/internal/storage/sqlite"
	"github.com/flashpay/pos-terminald/internal/stream"
	"github.com/flashpay/pos-terminald/internal/websocket"
	"github.com/flashpay/pos-terminald/pkg/clock"
	"github.com/flashpay/pos-terminald/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting POS terminal daemon",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Open SQLite storage
	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Error("Failed to create database directory", logger.Error(err), logger.String("path", dir))
			os.Exit(1)
		}
	}

	db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to open SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	// Create token storage (terminal credentials)
	tokens, err := sqlite.NewTokenStorage(db.GetDB(), log)
	if err != nil {
		log.Error("Failed to create token storage", logger.Error(err))
		os.Exit(1)
	}

	// Create event journal unless disabled
	var journal *sqlite.EventJournal
	if !cfg.Storage.JournalDisabled {
		journal, err = sqlite.NewEventJournal(db.GetDB(), cfg.Storage.JournalMaxRows, log)
		if err != nil {
			log.Error("Failed to create event journal", logger.Error(err))
			os.Exit(1)
		}
	}

	// Create gateway client
	gatewayClient := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.RequestTimeout(), tokens, log)

	// Create stream connection manager
	clk := clock.New()
	transport := stream.NewHTTPTransport(log)
	manager := stream.NewManager(stream.Config{
		BaseURL:          cfg.Gateway.BaseURL,
		DefaultTicketTTL: cfg.Stream.DefaultTicketTTL(),
		RefreshFraction:  cfg.Stream.RefreshFraction,
		BackoffBase:      cfg.Stream.BackoffBase(),
		BackoffCap:       cfg.Stream.BackoffCap(),
		PreflightTimeout: cfg.Stream.PreflightTimeout(),
	}, gatewayClient, transport, clk, log)

	// Create session reconciler
	var sink session.EventSink
	if journal != nil {
		sink = journal
	}
	reconciler := session.NewReconciler(session.Config{
		SeedGrace:    cfg.Stream.SeedGrace(),
		WaitingGrace: cfg.Stream.WaitingGrace(),
		EndGrace:     cfg.Stream.EndGrace(),
	}, manager, sink, clk, log)

	// Create WebSocket server and wire the state push
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	wsHandler := session.NewWebSocketHandler(reconciler, log)
	wsServer.SetMessageHandler(wsHandler)
	stopBroadcast := wsHandler.StartBroadcasting(wsServer)
	defer stopBroadcast()

	// Create action dispatcher
	dispatcher := actions.NewDispatcher(gatewayClient, log)

	// Start the event stream runtime if the terminal is already provisioned.
	// An unprovisioned terminal stays inert until POST /api/provision.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 5*time.Second)
	token, err := tokens.Token(startupCtx)
	startupCancel()
	if err != nil {
		log.Error("Failed to read terminal token", logger.Error(err))
		os.Exit(1)
	}
	if token != "" {
		log.Info("Terminal already provisioned, starting event stream")
		reconciler.Start()
	} else {
		log.Info("Terminal not provisioned, waiting for provisioning")
	}

	// Create API router
	router := api.NewRouter(reconciler, dispatcher, gatewayClient, tokens, journal, cfg, log, wsServer)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", addr), logger.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")

	// Stop the stream runtime first so no events race the shutdown
	log.Info("Stopping session reconciler...")
	reconciler.Stop()
	log.Info("Session reconciler stopped.")

	// Shutdown the HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	} else {
		log.Info("HTTP server shutdown complete")
	}

	log.Info("Terminal daemon fully stopped")
}
