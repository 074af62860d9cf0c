package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ottermq/otterclient/config"
	"github.com/ottermq/otterclient/pkg/client"
	"github.com/ottermq/otterclient/pkg/logger"
	"github.com/ottermq/otterclient/pkg/metrics"
	"github.com/ottermq/otterclient/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// app is the state shared by every subcommand.
type app struct {
	cfg       *config.Config
	url       string
	collector *metrics.Collector
	registry  *prometheus.Registry
	metrics   *http.Server
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "otterctl",
		Short:         "Drive an AMQP 0-9-1 broker from the command line",
		Version:       VERSION,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.shutdown()
		},
	}
	cmd.PersistentFlags().StringVar(&a.url, "url", "", "broker URL (overrides OTTERCLIENT_URL)")

	cmd.AddCommand(
		newDeclareCommand(a),
		newBindCommand(a),
		newPublishCommand(a),
		newConsumeCommand(a),
		newGetCommand(a),
	)
	return cmd
}

func (a *app) init() error {
	a.cfg = config.LoadConfig()
	logger.Init(a.cfg.LogLevel)
	if a.url != "" {
		a.cfg.URL = a.url
	}
	if !a.cfg.MetricsEnabled {
		return nil
	}

	a.registry = prometheus.NewRegistry()
	collector, err := metrics.NewCollector(metrics.DefaultConfig(), a.registry)
	if err != nil {
		return err
	}
	a.collector = collector
	if a.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		a.metrics = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("addr", a.cfg.MetricsAddr).Msg("Serving metrics")
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server error")
			}
		}()
	}
	return nil
}

func (a *app) shutdown() error {
	if a.metrics == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.metrics.Shutdown(ctx)
}

// connect dials with the configured reconnect policy and opens one channel.
func (a *app) connect(ctx context.Context) (*client.Connection, *client.Channel, error) {
	var rec metrics.Recorder
	if a.collector != nil {
		rec = a.collector
	}
	conn, err := client.Redial(ctx, transport.Dialer(a.cfg.TransportConfig()), a.cfg.ReconnectPolicy(), a.cfg.ClientOptions(rec)...)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.OpenChannel(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// run calls fn with a connected channel and a context cancelled on SIGINT or
// SIGTERM. The connection is closed when fn returns.
func (a *app) run(fn func(ctx context.Context, ch *client.Channel) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, ch, err := a.connect(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	work, finished := context.WithCancel(gctx)
	defer finished()
	if a.collector != nil {
		a.collector.StartPeriodicSampling(work)
	}
	g.Go(func() error {
		defer finished()
		return fn(work, ch)
	})
	g.Go(func() error {
		select {
		case <-conn.Done():
			return conn.Err()
		case <-work.Done():
			return nil
		}
	})
	err = g.Wait()

	if a.collector != nil {
		snap := a.collector.Snapshot()
		log.Debug().Int64("publishes", snap.Publishes).Int64("deliveries", snap.Deliveries).
			Int64("acks", snap.Acks).Msg("Session totals")
	}
	return multierr.Append(err, conn.Close())
}
