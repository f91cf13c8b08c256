package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"repoforge/internal/api"
	"repoforge/internal/controller"
	"repoforge/internal/logging"
	"repoforge/internal/packager"
)

var serveAddr string

// serveCmd starts the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the generation API over HTTP",
	Long: `Endpoints:
  GET  /health              liveness and in-flight run count
  POST /generate            {"query": "...", "max_iterations": 3, "timeout": 30}
  GET  /runs                recent runs
  GET  /runs/{id}           one run with files, findings and iterations
  GET  /runs/{id}/artifact  packaged zip`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	o, p, err := newOracle(ctx, cfg)
	if err != nil {
		return err
	}

	h := api.NewHandler(newBuilder(cfg, o, p), controller.ConfigFrom(cfg), cfg.Server.MaxConcurrent)
	h.RequestTimeout = cfg.GetRequestTimeout()
	h.Packager = packager.New(cfg.Output)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		h.Store = st
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	logging.Boot("API server listening on %s", addr)
	logger.Debug("Server limits", zap.Int("max_concurrent", cfg.Server.MaxConcurrent), zap.Duration("request_timeout", h.RequestTimeout))
	return api.NewServer(h, addr).Serve(ctx, 30*time.Second)
}
