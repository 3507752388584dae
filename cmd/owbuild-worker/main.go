// Command owbuild-worker runs a split-deployment, worker-only process: it
// holds no direct connection to the durable job store, talking instead to
// a remote owbuild-server process's worker-facing HTTP surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openwrt-firmware/imagebuilder-core/internal/api/workerapi"
	"github.com/openwrt-firmware/imagebuilder-core/internal/config"
	"github.com/openwrt-firmware/imagebuilder-core/internal/container"
	"github.com/openwrt-firmware/imagebuilder-core/internal/orchestrator"
	"github.com/openwrt-firmware/imagebuilder-core/internal/queue"
	"github.com/openwrt-firmware/imagebuilder-core/internal/stats"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "owbuild-worker",
		Short: "Run a pool of build workers against a remote job store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a TOML configuration file")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("owbuild-worker exited")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.WorkerAPIURL == "" {
		return fmt.Errorf("worker_api_url must be set for the split-deployment worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver, err := container.NewDockerDriver(cfg.ContainerSocketPath)
	if err != nil {
		return fmt.Errorf("connecting to container runtime: %w", err)
	}

	client := workerapi.NewClient(cfg.WorkerAPIURL)

	// The split-deployment worker has no local durable counters to mirror
	// into, so it runs a process-local-only Prometheus registry; the
	// authoritative counts live with the server process that owns the
	// job store.
	metrics := stats.New(prometheus.NewRegistry(), noopDurableCounters{})

	orch := orchestrator.New(driver, noopProbeCache{}, orchestrator.Options{
		StorePath:            cfg.StorePath,
		ImageBuilderRegistry: cfg.ImageBuilderRegistry,
		AllowDefaults:        cfg.AllowDefaults,
		JobTimeout:           cfg.JobTimeout(),
	})

	dispatcher := queue.New(client, orch, metrics, cfg.WorkerConcurrent, cfg.WorkerPollInterval())

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logrus.WithError(err).Debug("sd_notify READY failed (not running under systemd?)")
	}

	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logrus.Info("shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()
	<-done
	return nil
}
