package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/panupgrade/internal/server"
	"github.com/HerbHall/panupgrade/internal/version"
	"github.com/HerbHall/panupgrade/internal/ws"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the upgrade worker pool",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	logger.Info("panupgrade server starting", zap.String("version", version.Short()))

	if err := a.reg.StartAll(ctx); err != nil {
		return fmt.Errorf("start modules: %w", err)
	}

	wsHandler := ws.NewHandler(a.bus, logger.Named("ws"))
	defer wsHandler.Close()

	srvCfg := server.DefaultConfig()
	if sub := a.v.Sub("server"); sub != nil {
		if err := sub.Unmarshal(&srvCfg); err != nil {
			return fmt.Errorf("server config: %w", err)
		}
	}
	readyCheck := server.ReadinessChecker(func(ctx context.Context) error {
		return a.db.Ping(ctx)
	})
	srv := server.New(srvCfg, a.reg, logger, readyCheck, wsHandler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Info("panupgrade server ready", zap.String("addr", srvCfg.Addr()))

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err = <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	// Modules stop in the deferred close. Running workflows are interrupted
	// there and recorded as errored on the next start.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("server shutdown error", zap.Error(shutdownErr))
	}

	logger.Info("panupgrade server stopped")
	return err
}
