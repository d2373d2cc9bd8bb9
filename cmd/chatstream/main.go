package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ent0n29/chatstream/internal/channel"
	"github.com/ent0n29/chatstream/internal/config"
	"github.com/ent0n29/chatstream/internal/gateway"
	"github.com/ent0n29/chatstream/internal/history"
	"github.com/ent0n29/chatstream/internal/httpapi"
	"github.com/ent0n29/chatstream/internal/observability"
	"github.com/ent0n29/chatstream/internal/relay"
	"github.com/ent0n29/chatstream/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	window := observability.NewDeliveryWindow(256)

	ctx := context.Background()
	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer store.Close()

	var sender channel.Sender
	if strings.TrimSpace(cfg.GatewayURL) != "" {
		client, err := gateway.NewClient(cfg.GatewayURL, cfg.GatewayToken)
		if err != nil {
			log.Fatalf("gateway client init failed: %v", err)
		}
		defer client.Close()
		sender = client
		log.Printf("channel sender: gateway at %s", cfg.GatewayURL)
	} else {
		sender = channel.NewConsoleSender()
		log.Printf("channel sender: console (CHANNEL_GATEWAY_URL not set)")
	}
	sender = observability.NewInstrumentedSender(sender, metrics, window)

	manager := relay.NewManager(sender, store, metrics, relay.Options{
		StreamConfig: stream.Config{
			ChunkLimit:     cfg.ChunkLimit,
			ChunkMode:      stream.ChunkMode(cfg.ChunkMode),
			UpdateInterval: cfg.UpdateInterval,
		},
		InactivityTimeout: cfg.StreamInactivityTimeout,
		DupeCacheSize:     cfg.DupeCacheSize,
	})

	api := httpapi.New(cfg, manager, store, metrics, window)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	manager.StartJanitor(runCtx, cfg.JanitorInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	// Freeze any streams still marked as streaming before the process exits.
	manager.Shutdown()

	log.Printf("shutdown complete")
}
