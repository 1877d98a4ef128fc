package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hnwatch/hnwatch/internal/api"
)

// newServeCmd creates the 'serve' subcommand, which runs the periodic
// harvester alongside the HTTP API.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the snapshot API and runs periodic harvests",
		Long: `Starts the HTTP API for querying snapshots and a background
scheduler that harvests the listing pages on the configured interval.
The process runs until interrupted.`,

		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := buildScheduler(appInstance)
	if err != nil {
		return err
	}

	apiCfg := api.Config{RequestTimeout: appInstance.Config.RequestTimeout()}
	if appInstance.Config.Auth.Enabled {
		apiCfg.APIKey = appInstance.Config.Auth.APIKey
	}
	server := api.NewServer(appInstance.Store, sched, apiCfg, logger.Named("api"))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", appInstance.Config.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Start(ctx) }()

	serveDone := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		serveDone <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			<-schedDone
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	<-schedDone

	logger.Info("serve finished")
	return nil
}
