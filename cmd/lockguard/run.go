package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-lockguard/v1/guard"
	"github.com/mirkobrombin/go-lockguard/v1/httpapi"
	"github.com/mirkobrombin/go-lockguard/v1/logging"
	"github.com/mirkobrombin/go-lockguard/v1/metrics"
	"github.com/mirkobrombin/go-lockguard/v1/presets"
)

const (
	hydrateRetry    = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the guard and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var gopts []guard.Option
			if cfg.Tracing.Enabled {
				exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
				if err != nil {
					return err
				}
				tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
				defer func() { _ = tp.Shutdown(context.Background()) }()
				otel.SetTracerProvider(tp)
				gopts = append(gopts, guard.WithTracer(tp.Tracer("lockguard")))
			}

			stack, err := presets.FromConfig(cfg, logging.Component(log, "presets"), gopts...)
			if err != nil {
				return err
			}
			defer func() {
				if err := stack.Close(); err != nil {
					log.WithError(err).Warn("close stack")
				}
			}()

			reg := metrics.NewRegistry()
			metrics.RegisterGuardMetrics(reg)
			apiOpts := []httpapi.Option{
				httpapi.WithPublisher(stack.Source),
				httpapi.WithPreferences(stack.Prefs),
				httpapi.WithStatusBus(stack.Bus),
				httpapi.WithGatherer(reg),
				httpapi.WithLogger(logging.Component(log, "httpapi")),
			}
			if stack.Prompt != nil {
				apiOpts = append(apiOpts, httpapi.WithPrompt(stack.Prompt))
			}
			api := httpapi.New(stack.Guard, apiOpts...)

			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return err
			}
			srv := &http.Server{Handler: api.Routes(), ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.WithField("addr", ln.Addr().String()).Info("http api listening")
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			g.Go(func() error {
				return startStack(gctx, stack, logging.Component(log, "guard"))
			})
			return g.Wait()
		},
	}
}

// startStack runs the stack and keeps retrying hydration until it
// succeeds. The guard stays in the unknown state meanwhile.
func startStack(ctx context.Context, stack *presets.Stack, log *logrus.Entry) error {
	if err := stack.Run(ctx); err != nil {
		return err
	}
	for {
		err := stack.Prefs.Hydrate(ctx)
		if err == nil {
			log.WithField("lock_enabled", stack.Prefs.Snapshot().LockEnabled).Info("preferences hydrated")
			return nil
		}
		log.WithError(err).Warn("hydrate preferences, retrying")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(hydrateRetry):
		}
	}
}
