package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/alte-co-jp/aspnetcore/pkg/circuit"
	"github.com/alte-co-jp/aspnetcore/pkg/circuit/statestore"
	"github.com/alte-co-jp/aspnetcore/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		address    string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the circuit host server",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			config, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if address != "" {
				config.Address = address
			}

			metrics := circuit.NewMetrics(prometheus.DefaultRegisterer)
			factory := func(id circuit.ID, proxy circuit.ClientProxy) (*circuit.Host, error) {
				return circuit.NewHost(circuit.HostOptions{
					ID:       id,
					Renderer: newEchoRenderer(logger),
					Interop:  &echoInterop{logger: logger},
					Proxy:    proxy,
					Config:   config.Circuit,
					Logger:   logger,
					Metrics:  metrics,
				})
			}

			srv := server.New(config, factory, statestore.NewMemoryStore(), logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logger.Info("shutting down", "signal", sig.String())
				return srv.Shutdown(context.Background())
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (overrides config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}
