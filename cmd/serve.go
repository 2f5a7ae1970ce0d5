package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/vamdc-lines/internal/api"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the line API over HTTP until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := servicesFrom(cmd)
			if err != nil {
				return err
			}
			cfg := services.Config()
			if addr == "" {
				addr = fmt.Sprintf(":%d", cfg.Server.Port)
			}
			lines, err := services.Lines("")
			if err != nil {
				return err
			}
			logger := services.Logger()
			apiServer := api.NewServer(lines, services, api.Config{
				APIKey:         cfg.Server.APIKey,
				RequestTimeout: cfg.Server.RequestTimeout,
				Gatherer:       services.Gatherer(),
				Metrics:        services.Metrics(),
			}, logger.Named("api"))
			return serve(cmd.Context(), addr, apiServer.Handler(), logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default \":<server.port>\")")
	return cmd
}

// serve runs handler on addr until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
