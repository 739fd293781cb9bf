// Command syncd runs the offline sync engine as a daemon: it owns the
// durable store, drains the action queue whenever the network allows,
// and sweeps expired cache entries.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/syncengine/internal/clock"
	"github.com/carebridge/syncengine/internal/logging"
	"github.com/carebridge/syncengine/internal/models"
	"github.com/carebridge/syncengine/internal/store"
	"github.com/carebridge/syncengine/internal/sync"
	"github.com/carebridge/syncengine/internal/sync/queue"
	"github.com/carebridge/syncengine/internal/sync/scheduler"
	"github.com/carebridge/syncengine/internal/telemetry"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	var (
		dataDir   = flag.String("data-dir", envOr("CAREBRIDGE_DATA_DIR", "./data"), "directory for the sync database")
		remoteURL = flag.String("remote-url", envOr("CAREBRIDGE_REMOTE_URL", "http://localhost:8080"), "base URL of the sync server")
		deviceID  = flag.String("device-id", os.Getenv("CAREBRIDGE_DEVICE_ID"), "device identifier (generated and persisted when empty)")
		logLevel  = flag.String("log-level", envOr("CAREBRIDGE_LOG_LEVEL", "INFO"), "minimum log level (DEBUG, INFO, WARN, ERROR)")
		probeSecs = flag.Int("probe-interval", 30, "connectivity probe interval in seconds")
		version   = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("syncd " + Version)
		return
	}

	logging.Init(os.Stdout, logging.ParseLevel(*logLevel))
	logging.Info("syncd starting", map[string]interface{}{
		"version":    Version,
		"data_dir":   *dataDir,
		"remote_url": *remoteURL,
	})

	st, err := store.OpenSQLite(*dataDir)
	if err != nil {
		logging.Error("failed to open durable store", err,
			map[string]interface{}{"data_dir": *dataDir})
		os.Exit(1)
	}
	defer st.Close()

	id := resolveDeviceID(st, *deviceID)

	sink := telemetry.New(id)
	defer sink.Close()

	q := queue.New(st, clock.System{}, sink, nil)
	endpoint := sync.NewHTTPEndpoint(*remoteURL)

	mcfg := sync.DefaultConfig()
	mcfg.DeviceID = id
	mgr := sync.NewManager(sync.Deps{
		Store:  st,
		Queue:  q,
		Remote: endpoint,
		Sink:   sink,
	}, mcfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := scheduler.NewPollingProbe(endpoint.Healthy,
		time.Duration(*probeSecs)*time.Second)
	probe.Start(ctx)
	defer probe.Stop()

	sched := scheduler.New(probe, mgr, nil)
	sched.Start(ctx)
	defer sched.Stop()

	go sweepLoop(ctx, mgr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logging.Info("shutting down", map[string]interface{}{"signal": sig.String()})
	cancel()
	sched.Stop()
	probe.Stop()

	meta := mgr.Metadata()
	stats := mgr.QueueStats()
	logging.Info("syncd stopped", map[string]interface{}{
		"device_id":            meta.DeviceID,
		"last_successful_sync": meta.LastSuccessfulSync,
		"pending_actions":      stats.Pending,
		"failed_actions":       stats.Failed,
	})
}

// sweepLoop drops expired cache entries hourly.
func sweepLoop(ctx context.Context, mgr *sync.Manager) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := mgr.ClearExpiredCache(); removed > 0 {
				logging.Info("cache sweep",
					map[string]interface{}{"removed": removed})
			}
		}
	}
}

// resolveDeviceID picks the device identifier: explicit configuration
// wins, then the persisted metadata record, then a fresh UUID.
func resolveDeviceID(st store.Store, configured string) string {
	if configured != "" {
		return configured
	}

	if raw, err := st.Get("sync/metadata"); err == nil && raw != nil {
		var meta models.SyncMetadata
		if json.Unmarshal(raw, &meta) == nil && meta.DeviceID != "" {
			return meta.DeviceID
		}
	}

	return uuid.New().String()
}

// envOr returns the environment value for key, or fallback when unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
