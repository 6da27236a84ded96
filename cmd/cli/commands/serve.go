package commands

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

	"github.com/jakechorley/community-connect/pkg/api"
)

const (
	pruneInterval   = time.Hour
	shutdownTimeout = 10 * time.Second
)

// ServeCmd creates the serve command
func ServeCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the digest and ledger prune loops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			noDigests, _ := cmd.Flags().GetBool("no-digests")

			database, err := app.Database()
			if err != nil {
				return err
			}
			dispatcher, err := app.Dispatcher()
			if err != nil {
				return err
			}
			if app.Cfg.Server.JWTSecret == "" {
				app.Logger.Warn("No JWT secret configured, every API request will be rejected")
			}

			server := api.NewServer(database, dispatcher, api.Options{
				JWTSecret:      app.Cfg.Server.JWTSecret,
				AllowedOrigins: app.Cfg.Server.AllowedOrigins,
				HorizonMonths:  app.Cfg.Recurrence.HorizonMonths,
			}, app.Logger)

			ctx, stop := signal.NotifyContext(app.Ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if !noDigests {
				go runEvery(ctx, app.Cfg.Notifications.DigestInterval, func() {
					if _, err := runDigestSweep(app); err != nil {
						app.Logger.Error("Digest sweep failed", zap.Error(err))
					}
				})
			}
			if app.Cfg.Notifications.LedgerBackend != "redis" {
				go runEvery(ctx, pruneInterval, func() {
					if _, err := runLedgerPrune(app); err != nil {
						app.Logger.Error("Ledger prune failed", zap.Error(err))
					}
				})
			}

			httpServer := &http.Server{
				Addr:              app.Cfg.Server.Address,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				app.Logger.Info("HTTP server listening", zap.String("address", httpServer.Addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server failed: %w", err)
				}
			case <-ctx.Done():
				app.Logger.Info("Shutting down HTTP server")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down http server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().Bool("no-digests", false, "Do not run the digest loop in this process")
	return cmd
}

// runEvery calls fn on every tick until ctx is cancelled
func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
