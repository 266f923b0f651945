package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	// Import built-in indexers to register them
	_ "github.com/goran-ethernal/EntityIndexor/examples/indexers/erc20"
	"github.com/goran-ethernal/EntityIndexor/internal/app"
	"github.com/goran-ethernal/EntityIndexor/internal/common"
	"github.com/goran-ethernal/EntityIndexor/internal/config"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/internal/rpc"
	"github.com/goran-ethernal/EntityIndexor/pkg/indexer"
	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║         EntityIndexor v%s              ║
║   Reorg-aware Entity Indexing Framework   ║
╚═══════════════════════════════════════════╝
`
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "EntityIndexor - reorg-aware entity indexing",
	Long: `EntityIndexor follows a chain, projects contract events into entities and
keeps the writes of recent blocks staged until they are deeper than the
maximum reorg depth, so that reorganizations never reach the persisted store.`,
	Version: version,
	RunE:    runIndexer,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Follow the chain and serve queries",
	RunE:  runIndexer,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available indexer types",
	Long:  `List all registered indexer types that can be used in the configuration file.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Available indexer types:")
		types := indexer.ListRegistered()
		if len(types) == 0 {
			fmt.Println("  (no indexers registered)")
			return
		}
		for _, t := range types {
			fmt.Printf("  - %s\n", t)
		}
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Roll back an interrupted flush and exit",
	Long: `Replay the undo log of the entity store. A flush that was interrupted by a
crash is rolled back so the store holds exactly the last finalized block.`,
	RunE: recoverStore,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(append(schema, '\n'))
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(runCmd, listCmd, recoverCmd, schemaCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\n\nShutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

func runIndexer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	log := logger.NewComponentLoggerFromConfig(common.ComponentChainProvider, cfg.Logging)
	logger.SetDefaultLogger(log)

	log.Info("Connecting to Ethereum node...")
	client, err := rpc.NewClient(ctx, cfg.Chain.RPCURL, cfg.Chain.Retry, log)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	log.Infof("Connected to Ethereum node: %s", cfg.Chain.RPCURL)

	a, err := app.New(ctx, cfg, rpc.NewInstrumented(client))
	if err != nil {
		client.Close()
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warnf("failed to close store: %v", err)
		}
	}()

	log.Info("Starting EntityIndexor...")
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("indexer failed: %w", err)
	}

	log.Info("EntityIndexor stopped successfully")
	return nil
}

func recoverStore(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	finalized, err := app.Recover(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to recover store: %w", err)
	}
	if finalized == nil {
		fmt.Println("Store is consistent and empty")
		return nil
	}

	fmt.Printf("Store is consistent at block %d (%s)\n", finalized.Number, finalized.Hash.Hex())
	return nil
}
