package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kunal-geeks/kadnode/internal/config"
	"github.com/kunal-geeks/kadnode/internal/dht"
	"github.com/kunal-geeks/kadnode/internal/logging"
	"github.com/kunal-geeks/kadnode/internal/p2p"
)

const version = "0.1.0"

// globalFlags are shared by every subcommand and override the config file.
type globalFlags struct {
	configPath string
	logLevel   string
	timeout    string
}

func newRootCmd() *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:   "kadnode",
		Short: "Kademlia DHT node",
		Long: `kadnode runs a Kademlia-style distributed hash table node over UDP
and offers client commands to query running nodes.

Examples:
  # Start a bootstrap node
  kadnode serve --port 8000

  # Join it from a second node
  kadnode serve --port 8001 --bootstrap 127.0.0.1:8000

  # Store and fetch a value through the network
  kadnode store --peer 127.0.0.1:8000 greeting hello
  kadnode get --peer 127.0.0.1:8001 greeting`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&gf.configPath, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&gf.timeout, "timeout", "", "request timeout override, e.g. 2s")

	root.AddCommand(
		newServeCmd(&gf),
		newPingCmd(&gf),
		newStoreCmd(&gf),
		newGetCmd(&gf),
		newFindNodeCmd(&gf),
		newConfigCmd(&gf),
	)
	return root
}

// loadConfig reads the config file and applies global flag overrides.
func loadConfig(gf *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(gf.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if gf.logLevel != "" {
		cfg.Log.Level = gf.logLevel
	}
	if gf.timeout != "" {
		d, err := time.ParseDuration(gf.timeout)
		if err != nil {
			return nil, fmt.Errorf("--timeout: %w", err)
		}
		cfg.Transport.RequestTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// startNode binds a transport on listenAddr and starts a node on it.
// reg may be nil.
func startNode(cfg *config.Config, listenAddr string, logger *zap.Logger, reg prometheus.Registerer) (*dht.Node, error) {
	tr := p2p.NewUDPTransport(p2p.UDPTransportOpts{
		ListenAddr:      listenAddr,
		RequestTimeout:  cfg.Transport.RequestTimeout,
		MaxDatagramSize: cfg.Transport.MaxDatagramSize,
		Logger:          logger.Named("p2p"),
		Metrics:         p2p.NewMetrics(reg),
	})
	if err := tr.ListenAndAccept(); err != nil {
		return nil, err
	}

	opts := dht.NodeOpts{
		Transport:   tr,
		Logger:      logger,
		StaleRounds: cfg.Lookup.StaleRounds,
	}
	if cfg.Node.Bootstrap != "" {
		boot, err := dht.ParseLocation(cfg.Node.Bootstrap)
		if err != nil {
			_ = tr.Close()
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		opts.Bootstrap = &boot
	}

	node, err := dht.NewNode(opts)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	node.Start()
	return node, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
