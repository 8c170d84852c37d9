package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kunal-geeks/kadnode/internal/config"
	"github.com/kunal-geeks/kadnode/internal/dht"
)

// clientSession is a short-lived node on an OS-chosen port, used by the
// client subcommands to talk to --peer.
type clientSession struct {
	node   *dht.Node
	peer   dht.Location
	logger *zap.Logger
}

func openSession(gf *globalFlags, peerAddr string) (*clientSession, error) {
	if peerAddr == "" {
		return nil, fmt.Errorf("--peer is required")
	}
	peer, err := dht.ParseLocation(peerAddr)
	if err != nil {
		return nil, fmt.Errorf("--peer: %w", err)
	}

	cfg, err := loadConfig(gf)
	if err != nil {
		return nil, err
	}
	// Client output goes to stdout; keep the log quiet unless asked.
	if gf.logLevel == "" {
		cfg.Log.Level = "warn"
	}
	cfg.Node.Bootstrap = peerAddr

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	node, err := startNode(cfg, ephemeralAddr(cfg, peer), logger, nil)
	if err != nil {
		return nil, err
	}
	return &clientSession{node: node, peer: peer, logger: logger}, nil
}

// ephemeralAddr binds loopback when talking to a loopback peer so the
// source address the peer sees is one it can reply to.
func ephemeralAddr(cfg *config.Config, peer dht.Location) string {
	host := cfg.Node.Host
	if ip := net.ParseIP(peer.Host); ip != nil && ip.IsLoopback() {
		host = peer.Host
	}
	return net.JoinHostPort(host, "0")
}

func (s *clientSession) Close() {
	if err := s.node.Close(); err != nil {
		s.logger.Debug("close client node", zap.Error(err))
	}
	_ = s.logger.Sync()
}

func newPingCmd(gf *globalFlags) *cobra.Command {
	var peer string

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that a node is alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(gf, peer)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.node.Ping(s.peer); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PONG from %s (%s)\n", s.peer.Addr(), s.peer.ID.Short())
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "node to contact (host:port)")
	return cmd
}

func newStoreCmd(gf *globalFlags) *cobra.Command {
	var (
		peer   string
		direct bool
	)

	cmd := &cobra.Command{
		Use:   "store <key> <value>",
		Short: "Store a value in the network",
		Long: `Store a value on the peers closest to the key, found through --peer.
With --direct the value is stored on --peer only.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			s, err := openSession(gf, peer)
			if err != nil {
				return err
			}
			defer s.Close()

			if direct {
				if err := s.node.Store(key, value, s.peer); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %q on %s\n", key, s.peer.Addr())
				return nil
			}

			if err := s.node.Join(s.peer); err != nil {
				return err
			}
			acked, err := s.node.Put(key, value)
			if err != nil {
				return err
			}
			if acked == 0 {
				return fmt.Errorf("no peer acknowledged the store")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %q on %d peer(s)\n", key, acked)
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "node to contact (host:port)")
	cmd.Flags().BoolVar(&direct, "direct", false, "store on --peer only, without a lookup")
	return cmd
}

func newGetCmd(gf *globalFlags) *cobra.Command {
	var (
		peer   string
		direct bool
	)

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch a value from the network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			s, err := openSession(gf, peer)
			if err != nil {
				return err
			}
			defer s.Close()

			if direct {
				res, err := s.node.FindValue(key, s.peer)
				if err != nil {
					return err
				}
				if !res.Found {
					fmt.Fprintf(cmd.OutOrStdout(), "%q not on %s; closest peers:\n%s", key, s.peer.Addr(), formatPeers(res.Nodes))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Value)
				return nil
			}

			value, ok := s.node.Get(key)
			if !ok {
				return fmt.Errorf("key %q not found", key)
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "node to contact (host:port)")
	cmd.Flags().BoolVar(&direct, "direct", false, "send one FIND_VALUE to --peer instead of searching")
	return cmd
}

func newFindNodeCmd(gf *globalFlags) *cobra.Command {
	var peer string

	cmd := &cobra.Command{
		Use:   "find-node <hex-id | host:port>",
		Short: "Ask a node for the peers closest to an ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseTarget(args[0])
			if err != nil {
				return err
			}

			s, err := openSession(gf, peer)
			if err != nil {
				return err
			}
			defer s.Close()

			nodes, err := s.node.FindNode(target, s.peer)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatPeers(nodes))
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "node to contact (host:port)")
	return cmd
}

func newConfigCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// parseTarget accepts a 64-character hex ID or a peer address, whose ID is
// derived the same way nodes derive their own.
func parseTarget(s string) (dht.ID, error) {
	if id, err := dht.IDFromHex(s); err == nil {
		return id, nil
	}
	loc, err := dht.ParseLocation(s)
	if err != nil {
		return dht.ID{}, fmt.Errorf("target %q is neither a hex id nor host:port", s)
	}
	return loc.ID, nil
}

func formatPeers(peers []dht.Location) string {
	if len(peers) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, p := range peers {
		fmt.Fprintf(&b, "%s  %s\n", p.ID, p.Addr())
	}
	return b.String()
}
