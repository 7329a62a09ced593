package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benpate/derp"
	"github.com/benpate/imageserver"
	"github.com/benpate/imageserver/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// currentConfig is populated by loadConfig before a command runs.
var currentConfig imageserver.Config

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired renditions from the cache, then exit",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: runSweep,
}

func runServe(cmd *cobra.Command, args []string) error {

	const location = "main.runServe"

	config := currentConfig
	registry := prometheus.NewRegistry()

	server, err := imageserver.New(config, imageserver.WithRegistry(registry))

	if err != nil {
		return derp.Wrap(err, location, "Unable to start image server")
	}

	defer server.Close()

	janitor := imageserver.NewCacheJanitor(server.CacheFilesystem(), config.CacheTTL(), config.JanitorPeriod())
	janitor.Start()
	defer janitor.Close()

	servers := []*http.Server{{
		Addr:              config.Address,
		Handler:           web.NewHandler(server, log.Logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}}

	if config.MetricsAddress != "" {
		servers = append(servers, &http.Server{
			Addr:              config.MetricsAddress,
			Handler:           web.NewMetricsHandler(registry),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failures := make(chan error, len(servers))

	for _, httpServer := range servers {
		go func() {
			log.Info().Str("location", location).Str("address", httpServer.Addr).Msg("Listening...")

			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				failures <- derp.Wrap(err, location, "Server stopped unexpectedly", httpServer.Addr)
			}
		}()
	}

	log.Info().
		Str("location", location).
		Str("imageRoot", config.ImageRoot).
		Str("cacheRoot", config.CacheRoot).
		Bool("uploads", config.UploadEnabled).
		Msg("Image server started.")

	var result error

	select {
	case <-ctx.Done():
		log.Info().Str("location", location).Msg("Shutting down...")

	case result = <-failures:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, httpServer := range servers {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			derp.Report(derp.Wrap(err, location, "Error during shutdown", httpServer.Addr))
		}
	}

	return result
}

func runSweep(cmd *cobra.Command, args []string) error {

	config := currentConfig

	server, err := imageserver.New(config)

	if err != nil {
		return derp.Wrap(err, "main.runSweep", "Unable to open cache")
	}

	defer server.Close()

	janitor := imageserver.NewCacheJanitor(server.CacheFilesystem(), config.CacheTTL(), 0)
	removed := janitor.Sweep()

	log.Info().Int("removed", removed).Msg("Cache sweep complete.")
	return nil
}
