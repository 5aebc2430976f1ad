package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/handlers"
	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/monitoring"
)

func serveCmd(configPath *string) *cobra.Command {
	var withJobs bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve webhooks, status polls and admin routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if withJobs {
				s, err := a.scheduler()
				if err != nil {
					return err
				}
				s.Start()
				defer s.Stop(context.Background())
			}

			// Setup Gin router
			r := gin.Default()

			// OpenTelemetry middleware
			r.Use(otelgin.Middleware(a.cfg.ServiceName))
			r.Use(httpMetricsMiddleware())

			if monitoring.Enabled() {
				r.GET("/metrics", gin.WrapH(monitoring.MetricsHandler()))
			}
			handlers.RegisterRoutes(r,
				handlers.NewPaymentHandler(a.engine, a.store, a.verifier, nil),
				handlers.NewAdminHandler(a.engine, a.scanner, a.sweeper),
				a.cfg.AdminToken,
			)

			srv := &http.Server{
				Addr:              ":" + a.cfg.Port,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logging.Info("Payment reconciler starting", zap.String("port", a.cfg.Port), zap.Bool("jobs", withJobs))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logging.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&withJobs, "jobs", false, "also run the scheduled jobs in this process")
	return cmd
}

func workerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the scanner, sweeper and entitlement redelivery on their schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			s, err := a.scheduler()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s.Start()
			logging.Info("Worker started",
				zap.String("scan_cron", a.cfg.Scan.Cron),
				zap.String("sweep_cron", a.cfg.Sweep.Cron),
				zap.String("redelivery_cron", a.cfg.Entitlement.Cron),
			)
			<-ctx.Done()

			logging.Info("Worker stopping, waiting for running jobs")
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			s.Stop(stopCtx)
			return nil
		},
	}
}

func scanCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one stuck-payment scan and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Scan.LockTTL)
			defer cancel()
			sum, err := a.scanner.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}
}

func sweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Abandon every payment pending past the ceiling",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			sum, err := a.sweeper.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}
}

func recoverCmd(configPath *string) *cobra.Command {
	var operator string

	cmd := &cobra.Command{
		Use:   "recover [payment-id]",
		Short: "Query the provider for one payment and reconcile it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			d, err := a.engine.Recover(cmd.Context(), args[0], operator)
			if err != nil {
				return err
			}
			return printJSON(cmd, handlers.RecoveryResponse(d))
		},
	}

	cmd.Flags().StringVar(&operator, "operator", os.Getenv("USER"), "operator recorded in the payment's audit metadata")
	return cmd
}

func redeliverCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "redeliver",
		Short: "Retry entitlement activations that have not been delivered",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if limit <= 0 {
				limit = a.cfg.Entitlement.BatchSize
			}
			sum, err := a.entitlement.Redeliver(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum grants to retry (default entitlement.batch_size)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
