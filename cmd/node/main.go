package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"icn-node/core"
)

func main() {
	rootCmd := &cobra.Command{Use: "icn-node"}
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(accountCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var dataDir, cooperative, entity string
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "assemble and run an ICN node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := core.NodeConfig{
				Cooperative: cooperative,
				Entity:      entity,
				Identity: core.IdentityConfig{
					DataDir:   dataDir + "/identity",
					CacheSize: 1024,
					CacheTTL:  10 * time.Minute,
				},
				Transport: core.TransportConfig{
					DataDir:      dataDir + "/transport",
					ListenAddrs:  []string{listenAddr},
					TunnelPrefix: "fd00:1::/64",
				},
				Ledger: core.LedgerConfig{
					DataDir:          dataDir + "/ledger",
					SnapshotInterval: time.Hour,
					MaxPathHops:      6,
					RangeProofBits:   32,
				},
				Storage: core.StorageConfig{
					DataDir:        dataDir + "/storage",
					DiskCacheBytes: 512 * 1024 * 1024,
				},
			}
			authKey, err := core.LoadOrCreateNodeKey(cfg.Identity.DataDir, "node-auth.key")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			node, err := core.NewICNNode(ctx, cfg, authKey, nil)
			if err != nil {
				return fmt.Errorf("assemble node: %w", err)
			}
			defer node.Close()
			fmt.Printf("node listening on %s\n", listenAddr)
			node.Run(ctx)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "root data directory")
	cmd.Flags().StringVar(&cooperative, "cooperative", "default-coop", "cooperative identifier")
	cmd.Flags().StringVar(&entity, "entity", "node-1", "entity identifier within the cooperative")
	cmd.Flags().StringVar(&listenAddr, "listen", "/ip4/0.0.0.0/tcp/4001", "overlay transport listen multiaddress")
	return cmd
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "account"}
	cmd.AddCommand(&cobra.Command{
		Use:   "open [id]",
		Short: "print where to open an account on a running node",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("use the running node's RPC/administrative interface to open account %s\n", args[0])
		},
	})
	return cmd
}
