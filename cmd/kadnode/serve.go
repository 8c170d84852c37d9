package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kunal-geeks/kadnode/internal/config"
	"github.com/kunal-geeks/kadnode/internal/dht"
)

func newServeCmd(gf *globalFlags) *cobra.Command {
	var (
		host        string
		port        uint16
		bootstrap   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a DHT node until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Node.Host = host
			}
			if flags.Changed("port") {
				cfg.Node.Port = port
			}
			if flags.Changed("bootstrap") {
				cfg.Node.Bootstrap = bootstrap
			}
			if flags.Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return runServe(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "host to bind (overrides config)")
	cmd.Flags().Uint16Var(&port, "port", 0, "UDP port to bind (overrides config)")
	cmd.Flags().StringVar(&bootstrap, "bootstrap", "", "bootstrap peer host:port (overrides config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// runServe runs a node and the optional metrics endpoint until ctx is
// cancelled or the process is interrupted.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	node, err := startNode(cfg, cfg.ListenAddr(), logger, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Warn("error closing node", zap.Error(err))
		}
	}()
	registerNodeGauges(reg, node)

	logger.Info("node started",
		zap.String("listen", node.Location().Addr()),
		zap.Stringer("id", node.ID()))

	if node.RoutingTable().Len() > 0 {
		joinNetwork(node, logger)
	}

	var srv *http.Server
	if metricsAddr := cfg.Metrics.Addr; metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			logger.Info("metrics endpoint listening", zap.String("address", metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
	return nil
}

// joinNetwork announces the node to its bootstrap peers and then looks up
// its own ID, which fills the routing table with its neighbours.
func joinNetwork(node *dht.Node, logger *zap.Logger) {
	for _, bucket := range node.RoutingTable().Snapshot() {
		for _, peer := range bucket {
			if err := node.Join(peer); err != nil {
				logger.Warn("join failed", zap.Stringer("peer", peer), zap.Error(err))
			}
		}
	}

	found := node.Lookup(node.ID())
	logger.Info("bootstrap lookup complete",
		zap.Int("found", len(found)), zap.Int("routing_table", node.RoutingTable().Len()))
}

func registerNodeGauges(reg prometheus.Registerer, node *dht.Node) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kadnode",
			Subsystem: "dht",
			Name:      "routing_table_peers",
			Help:      "Peers currently in the routing table.",
		}, func() float64 { return float64(node.RoutingTable().Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "kadnode",
			Subsystem: "dht",
			Name:      "stored_keys",
			Help:      "Keys held in the local store.",
		}, func() float64 { return float64(node.LocalStore().Len()) }),
	)
}
