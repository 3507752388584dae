// Command owbuild-server runs the monolithic deployment: the request API,
// the admission-control dispatcher, and its pool of build workers, all in
// one process sharing a single jobstore.Store connection.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openwrt-firmware/imagebuilder-core/internal/api"
	"github.com/openwrt-firmware/imagebuilder-core/internal/api/workerapi"
	"github.com/openwrt-firmware/imagebuilder-core/internal/buildrequest"
	"github.com/openwrt-firmware/imagebuilder-core/internal/config"
	"github.com/openwrt-firmware/imagebuilder-core/internal/container"
	"github.com/openwrt-firmware/imagebuilder-core/internal/jobstore"
	"github.com/openwrt-firmware/imagebuilder-core/internal/orchestrator"
	"github.com/openwrt-firmware/imagebuilder-core/internal/queue"
	"github.com/openwrt-firmware/imagebuilder-core/internal/recovery"
	"github.com/openwrt-firmware/imagebuilder-core/internal/stats"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "owbuild-server",
		Short: "Serve firmware build requests and run the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a TOML configuration file")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("owbuild-server exited")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if err := api.ValidateOpenAPIDoc(); err != nil {
		return fmt.Errorf("embedded OpenAPI document is invalid: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := jobstore.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connecting to job store: %w", err)
	}
	defer store.Close()

	driver, err := container.NewDockerDriver(cfg.ContainerSocketPath)
	if err != nil {
		return fmt.Errorf("connecting to container runtime: %w", err)
	}

	if requeued, failed, err := recovery.Sweep(ctx, store, cfg.StorePath); err != nil {
		logrus.WithError(err).Error("startup recovery sweep failed")
	} else if requeued+failed > 0 {
		logrus.WithFields(logrus.Fields{"requeued": requeued, "failed": failed}).Info("recovered jobs left BUILDING by a prior crash")
	}

	metrics := stats.New(prometheus.DefaultRegisterer, store)

	orch := orchestrator.New(driver, store, orchestrator.Options{
		StorePath:            cfg.StorePath,
		ImageBuilderRegistry: cfg.ImageBuilderRegistry,
		AllowDefaults:        cfg.AllowDefaults,
		JobTimeout:           cfg.JobTimeout(),
	})

	dispatcher := queue.New(store, orch, metrics, cfg.WorkerConcurrent, cfg.WorkerPollInterval())
	go dispatcher.Run(ctx)

	server := api.NewServer(store, driver, metrics, api.Options{
		Limits: buildrequest.Limits{
			AllowDefaults:     cfg.AllowDefaults,
			MaxDefaultsLength: cfg.MaxDefaultsLength,
			MaxCustomRootFSMB: cfg.MaxCustomRootFSSizeMB,
		},
		MaxPendingJobs:       cfg.MaxPendingJobs,
		ImageBuilderRegistry: cfg.ImageBuilderRegistry,
		ProbeTimeout:         cfg.JobTimeout(),
	})

	// The worker-facing surface that split-deployment owbuild-worker
	// processes talk to is served under /worker on the same listener.
	mux := http.NewServeMux()
	mux.Handle("/worker/", workerapi.NewServer(store).Handler("/worker"))
	mux.Handle("/", server.Handler("/"))

	addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logrus.WithField("addr", addr).Info("owbuild-server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("http server stopped")
		}
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logrus.WithError(err).Debug("sd_notify READY failed (not running under systemd?)")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logrus.Info("shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
