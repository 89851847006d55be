// Command oracle is the publisher tool for band4band feeds. It validates
// game payloads, pins them under their content identifier and submits signed
// feed updates to a settlement node.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/band4band/internal/config"
	"github.com/alanyoungcy/band4band/internal/oracle"
)

type rootOptions struct {
	configPath string
	nodeURL    string
	apiKey     string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "oracle",
		Short:         "band4band oracle data publisher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to configuration file (.toml, .yaml)")
	root.PersistentFlags().StringVar(&opts.nodeURL, "node", "", "settlement node URL (overrides oracle.node_url)")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", "", "node API key (overrides oracle.api_key)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		validateCmd(),
		pushCmd(opts),
		inspectCmd(opts),
		encryptKeyCmd(opts),
	)
	return root
}

// load reads the configuration and applies command-line overrides.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.nodeURL != "" {
		cfg.Oracle.NodeURL = o.nodeURL
	}
	if o.apiKey != "" {
		cfg.Oracle.APIKey = o.apiKey
	}
	return cfg, nil
}

func (o *rootOptions) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func nodeClient(cfg *config.Config) *oracle.Client {
	return oracle.NewClient(cfg.Oracle.NodeURL, cfg.Oracle.APIKey, cfg.Oracle.RequestTimeout.Duration)
}
