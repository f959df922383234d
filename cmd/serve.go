package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/porthorian/hashpolicy"
	"github.com/porthorian/hashpolicy/pkg/metrics"
	httptransport "github.com/porthorian/hashpolicy/pkg/transport/http"
	"github.com/spf13/cobra"
)

const defaultListenAddress = ":8080"

func init() {
	rootCmd.AddCommand(newServeCommand())
}

func newServeCommand() *cobra.Command {
	var address string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the credential API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}

			fileConfig, err := loadFileConfig()
			if err != nil {
				return err
			}
			config, err := fileConfig.Config()
			if err != nil {
				return err
			}

			m := metrics.New()
			config.Logger = logger
			config.Metrics = m

			client, err := hashpolicy.New(config)
			if err != nil {
				return err
			}
			defer client.Close()

			if address == "" {
				address = fileConfig.HTTP.Address
			}
			if address == "" {
				address = defaultListenAddress
			}

			api := httptransport.NewAPI(httptransport.Config{
				Service:        client,
				MetricsHandler: m.Handler(),
				Logger:         logger.WithName("http"),
			})
			server := &http.Server{
				Addr:              address,
				Handler:           api.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("listening", "address", address, "providers", client.Providers())
				serveErr <- server.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	serveCmd.Flags().StringVar(&address, "addr", "", "Listen address. Defaults to http.address from the config, then "+defaultListenAddress+".")
	return serveCmd
}
