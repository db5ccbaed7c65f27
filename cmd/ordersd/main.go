// Command ordersd launches the ordersync runtime entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"

	"github.com/dinehub/ordersync/config"
	"github.com/dinehub/ordersync/internal/bus/eventbus"
	"github.com/dinehub/ordersync/internal/conn"
	"github.com/dinehub/ordersync/internal/dining"
	"github.com/dinehub/ordersync/internal/observability"
	"github.com/dinehub/ordersync/internal/orderstore"
	"github.com/dinehub/ordersync/internal/payment"
	"github.com/dinehub/ordersync/internal/payment/track"
	"github.com/dinehub/ordersync/internal/reconcile"
	"github.com/dinehub/ordersync/internal/snapshot"
	"github.com/dinehub/ordersync/lib/telemetry"
)

const (
	loggerPrefix            = "ordersd "
	shutdownTimeout         = 30 * time.Second
	serverShutdownTimeout   = 5 * time.Second
	telemetryFlushTimeout   = 5 * time.Second
	serverReadHeaderTimeout = 5 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
	observability.SetLogger(observability.NewStdLogger(logger))

	cfg, err := config.Load(ctx, cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, restaurant=%s", cfg.Environment, cfg.Restaurant.ID)

	registry := prometheus.NewRegistry()
	observability.SetMetrics(observability.NewPromMetrics(registry, "ordersync"))

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	bus := eventbus.New()
	store := orderstore.New()
	session := dining.StaticSession{RestaurantID: cfg.Restaurant.ID, TableID: cfg.Restaurant.TableID}

	engine := reconcile.NewEngine(bus, store, session)
	if _, err := engine.Attach(); err != nil {
		logger.Fatalf("attach reconciliation engine: %v", err)
	}

	resyncer := snapshot.NewResyncer(snapshot.Config{
		BaseURL:        cfg.REST.BaseURL,
		RequestTimeout: cfg.REST.RequestTimeout,
		MaxAttempts:    cfg.Resync.MaxAttempts,
		MaxInterval:    cfg.Resync.MaxInterval,
	}, nil, store, bus, cfg.Restaurant.ID)
	if err := resyncer.Attach(ctx); err != nil {
		logger.Fatalf("attach snapshot resyncer: %v", err)
	}

	fetcher := track.NewClient(cfg.REST.BaseURL, &http.Client{Timeout: cfg.REST.RequestTimeout})
	payments := payment.NewController(payment.Config{
		LivenessInterval: cfg.Payment.LivenessInterval,
		SessionTimeout:   cfg.Payment.SessionTimeout,
	}, &loggingOpener{}, fetcher, bus, dining.LogNotifier{}, cfg.Restaurant.ID)

	manager := conn.NewManager(conn.Config{
		Endpoint:             cfg.Realtime.Endpoint,
		HandshakeTimeout:     cfg.Realtime.HandshakeTimeout,
		ReconnectBaseDelay:   cfg.Realtime.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		KeepaliveInterval:    cfg.Realtime.KeepaliveInterval,
	}, bus, nil)
	if err := manager.Connect(ctx, conn.Identity{RestaurantID: cfg.Restaurant.ID}); err != nil {
		logger.Fatalf("connect transport: %v", err)
	}

	var lifecycle conc.WaitGroup
	server := newControlServer(cfg.Server.Addr, registry, store, manager, payments)
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("control server: %v", err)
		}
	})
	logger.Printf("control API listening on %s", server.Addr)

	logger.Print("ordersd started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	serverCtx, serverCancel := context.WithTimeout(shutdownCtx, serverShutdownTimeout)
	if err := server.Shutdown(serverCtx); err != nil {
		logger.Printf("control server shutdown: %v", err)
	}
	serverCancel()

	manager.Disconnect()
	payments.ResetAll()
	lifecycle.Wait()

	flushCtx, flushCancel := context.WithTimeout(shutdownCtx, telemetryFlushTimeout)
	if err := telemetryShutdown(flushCtx); err != nil {
		logger.Printf("telemetry shutdown: %v", err)
	}
	flushCancel()

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to configuration file (default: %s)", "config/ordersync.yaml"))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// loggingOpener is the headless confirmation surface: the payment link is
// logged for the operator and the surface stays open until a completion
// signal or the session timeout resolves it.
type loggingOpener struct{}

type loggingSurface struct {
	mu     sync.Mutex
	closed bool
}

func (s *loggingSurface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *loggingSurface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (loggingOpener) Open(link string) (payment.Surface, error) {
	observability.Log().Info("payment link issued", observability.F("link", link))
	return &loggingSurface{}, nil
}

func (loggingOpener) Redirect(link string) error {
	observability.Log().Info("payment redirect issued", observability.F("link", link))
	return nil
}
