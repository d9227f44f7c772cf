package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the HTTP API over the configured store. Single-session touch and
delete requests are queued and flushed on the configured interval; pending
sessions are flushed once more on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := openClient(ctx, cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		logger := client.Logger()

		if setup, _ := cmd.Flags().GetBool("setup"); setup {
			if err := client.Setup(ctx); err != nil {
				return err
			}
		}

		addr := client.Addr()
		if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
			addr = flagAddr
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           client.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		trackerDone := make(chan struct{})
		go func() {
			defer close(trackerDone)
			client.RunTracker(ctx)
		}()

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting sessionsync server", "addr", srv.Addr, "store", client.StoreKind())
			serverErrors <- srv.ListenAndServe()
		}()

		var runErr error
		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				runErr = fmt.Errorf("server error: %w", err)
			}
			stop()

		case <-ctx.Done():
			logger.Info("shutting down")

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				if err := srv.Close(); err != nil {
					logger.Error("failed to close server", "err", err)
				}
			}
		}

		<-trackerDone
		logger.Info("sessionsync server stopped")
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides http.addr)")
	serveCmd.Flags().Bool("setup", false, "Set up the sessions collection before serving")
}
