package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openaudit/chronolog/internal/httpapi"
	"github.com/openaudit/chronolog/internal/repository"
)

// NewServeCommand creates the serve command: run the read-only audit API.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "Serve the read-only audit API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, registry, conn, err := connect(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer conn.Close()

			store := repository.NewActivityRepository(conn.Pool)
			api := httpapi.NewServer(registry, store)

			server := &http.Server{
				Addr:         cfg.HTTP.Addr,
				Handler:      api.Handler(cfg.HTTP.AllowedOrigins),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("[HTTP] audit API listening on %s", cfg.HTTP.Addr)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				log.Printf("[HTTP] shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
