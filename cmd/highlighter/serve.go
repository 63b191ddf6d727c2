package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tendant/community-highlighter/internal/handlers"
	"github.com/tendant/community-highlighter/internal/metrics"
	"github.com/tendant/community-highlighter/internal/workflows"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m, err := metrics.New(reg)
			if err != nil {
				return err
			}

			s, err := ctx.openSession(cmd, workflows.WithRecorder(m))
			if err != nil {
				return err
			}
			defer s.Close()
			s.orchestrator.Subscribe(m.Observe)

			return serve(cmd.Context(), s, reg)
		},
	}
}

func serve(ctx context.Context, s *session, reg *prometheus.Registry) error {
	logger := s.logger

	// the backend may already hold a video from an earlier session
	if err := s.orchestrator.RefreshMetadata(ctx); err != nil {
		logger.Warn("no metadata at startup", "error", err)
	}

	mux := http.NewServeMux()
	handlers.NewAPIHandler(s.orchestrator, logger,
		handlers.WithMaxUploadBytes(s.cfg.MaxUploadBytes()),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("highlighter ready",
			"addr", s.cfg.ListenAddr,
			"backend", s.client.BaseURL(),
			"history", s.ledger != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
