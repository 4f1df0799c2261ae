// Command meshreachd is a headless mesh node: it runs the engine described
// by pkg/mesh/core continuously, logging every device/message/status
// event instead of rendering them, and exposes a Prometheus scrape
// endpoint for the counters pkg/mesh/metrics collects.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/core"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/logging"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/metrics"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/rendezvous"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/store"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/transport/internet"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/transport/lanmdns"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/transport/local"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/transport/native"
	rzt "github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/transport/rendezvous"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "meshreachd",
		Short: "Run a headless mesh-reach node",
		RunE:  runDaemon,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "meshreachd.yaml", "path to a YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, dc, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log := logging.New()
	if dc.Debug {
		log.ToggleDebug(true)
	}

	if err := os.MkdirAll(dc.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir %s: %w", dc.DataDir, err)
	}
	st, err := store.OpenBolt(filepath.Join(dc.DataDir, "mesh.db"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	handlers := core.Handlers{
		OnDeviceDiscovered: func(d types.Device) {
			log.Infof("device discovered: id=%s name=%q via=%s", d.ID, d.Name, d.ConnectionType)
		},
		OnDeviceUpdated: func(d types.Device) {
			log.Debugf("device updated: id=%s name=%q online=%v", d.ID, d.Name, d.IsOnline)
		},
		OnDeviceLost: func(deviceID string) {
			log.Infof("device lost: id=%s", deviceID)
		},
		OnMessageReceived: func(msg types.Message) {
			log.Infof("message received: id=%s from=%s", msg.ID, msg.SenderID)
		},
		OnMessageStatusChanged: func(messageID string, status types.MessageStatus) {
			log.Debugf("message status changed: id=%s status=%s", messageID, status)
		},
		OnScanStateChanged: func(scanning bool) {
			log.Infof("scanning=%v", scanning)
		},
		OnConnectionStatusChanged: func(isOnline bool, available []types.Transport) {
			log.Infof("connection status: online=%v available=%v", isOnline, available)
		},
	}

	c := core.New(st, log, cfg, handlers, m)
	nodeID, name, err := c.Initialize(ctx, dc.DeviceName)
	if err != nil {
		return fmt.Errorf("initializing node: %w", err)
	}
	log.Infof("node initialized: id=%s name=%q", nodeID, name)

	if err := c.RegisterDriver(ctx, local.New(nodeID, dc.LocalGroup, log.With("local"))); err != nil {
		log.Warnf("local transport: %v", err)
	}

	var relay rendezvous.RecordStore
	if dc.RendezvousURL != "" {
		rd := rzt.New(nodeID, dc.RendezvousURL, log.With("rendezvous"))
		if err := c.RegisterDriver(ctx, rd); err != nil {
			log.Warnf("rendezvous transport: %v", err)
		}

		id := internet.New(nodeID, rd, log.With("internet"))
		if err := c.RegisterDriver(ctx, id); err != nil {
			log.Warnf("internet transport: %v", err)
		}
		c.ConnectSignaling(ctx)

		relay = rendezvous.NewWSRelay(dc.RendezvousURL)
	}

	if dc.MDNSPort != 0 {
		if err := c.RegisterDriver(ctx, lanmdns.New(nodeID, name, dc.MDNSPort, log.With("lanmdns"))); err != nil {
			log.Warnf("lanmdns transport: %v", err)
		}
	}

	if err := c.RegisterDriver(ctx, native.New()); err != nil {
		log.Warnf("native transport: %v", err)
	}

	if relay != nil {
		syncer := c.Syncer(relay)
		if err := syncer.Sync(ctx); err != nil {
			log.Warnf("rendezvous: initial sync failed: %v", err)
		}
		go runSyncLoop(ctx, syncer, log)
	}

	go runMetricsServer(ctx, dc.MetricsAddr, reg, log)
	go runMetricsSampler(ctx, c)

	log.Infof("meshreachd running, press ctrl-c to stop")
	<-ctx.Done()

	log.Infof("shutting down")
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.Cleanup(cleanupCtx)
	return nil
}

// runSyncLoop re-runs the rendezvous upload/fetch cycle on a fixed
// interval, matching spec.md §4.9's "invoked on startup and after every
// reconnect" with a periodic fallback for a daemon that has no explicit
// reconnect signal to hook.
func runSyncLoop(ctx context.Context, syncer *rendezvous.Syncer, log types.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := syncer.Sync(ctx); err != nil {
				log.Warnf("rendezvous: periodic sync failed: %v", err)
			}
		}
	}
}

// runMetricsSampler refreshes the gauge-shaped metrics Core does not
// update on its own, since Core deliberately owns no ticker for them.
func runMetricsSampler(ctx context.Context, c *core.Core) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SampleMetrics()
		}
	}
}

func runMetricsServer(ctx context.Context, addr string, reg *prometheus.Registry, log types.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warnf("metrics server: %v", err)
	}
}
