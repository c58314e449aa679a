package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"betledger/api"
	"betledger/config"
	"betledger/observability"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the metrics endpoint and the expiry worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			cfg.HTTPAddr = firstNonEmpty(viper.GetString("http-addr"), cfg.HTTPAddr)
			cfg.MetricsAddr = firstNonEmpty(viper.GetString("metrics-addr"), cfg.MetricsAddr)
			return serve(cmd.Context(), cfg, viper.GetBool("no-worker"))
		},
	}

	cmd.Flags().String("http-addr", "", "API listen address (overrides HTTP_ADDR)")
	cmd.Flags().String("metrics-addr", "", "metrics listen address (overrides METRICS_ADDR)")
	cmd.Flags().Bool("no-worker", false, "do not run the expiry and reconciliation worker")
	_ = viper.BindPFlag("http-addr", cmd.Flags().Lookup("http-addr"))
	_ = viper.BindPFlag("metrics-addr", cmd.Flags().Lookup("metrics-addr"))
	_ = viper.BindPFlag("no-worker", cmd.Flags().Lookup("no-worker"))
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, noWorker bool) error {
	log.WithField("environment", cfg.Environment).Info("Starting betledger...")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	apiServer := api.NewServer(api.Services{
		Lifecycle:  a.lifecycle,
		Staking:    a.staking,
		Settlement: a.settlement,
		Points:     a.points,
		Members:    a.members,
	}, a.metrics, a.health).NewHTTPServer(cfg.HTTPAddr)
	metricsServer := observability.NewMetricsServer(cfg.MetricsAddr, a.registry, a.health)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", apiServer.Addr).Info("HTTP API listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.WithField("addr", metricsServer.Addr).Info("Metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	if !noWorker {
		g.Go(func() error {
			stop := a.worker.Start(gctx)
			<-gctx.Done()
			stop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP API shutdown did not complete")
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Metrics server shutdown did not complete")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Shutdown completed")
	return nil
}
