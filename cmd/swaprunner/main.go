package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"SwapRunner/internal/config"
)

// main 是 swaprunner 命令行的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "swaprunner: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions 是所有子命令共享的参数。
type globalOptions struct {
	configPath string
	envFiles   []string
}

func (g *globalOptions) resolveConfigPath() string {
	if g.configPath != "" {
		return g.configPath
	}
	if v := os.Getenv(config.EnvConfigPath); v != "" {
		return v
	}
	return config.DefaultPath
}

func newRootCmd() *cobra.Command {
	global := &globalOptions{}
	runOpts := &runOptions{}

	root := &cobra.Command{
		Use:   "swaprunner",
		Short: "Run ETH swaps on the Euclid testnet router from one or more accounts",
		Long: `swaprunner quotes, builds, signs and submits ETH -> EUCLID/ANDR/MON swaps on
Arbitrum Sepolia through the Euclid routing API, with retrying API calls,
optional proxy rotation and human-like pacing.

Without a subcommand it behaves like "swaprunner run".`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCampaign(cmd, global, runOpts)
		},
	}
	root.PersistentFlags().StringVar(&global.configPath, "config", "", "config file (default $SWAPRUNNER_CONFIG or "+config.DefaultPath+")")
	root.PersistentFlags().StringSliceVar(&global.envFiles, "env-file", []string{".env", ".env.local"}, "dotenv files loaded before reading the environment")
	runOpts.bind(root)

	runCmd := &cobra.Command{
		Use:          "run",
		Short:        "Run a swap campaign (interactive unless flags answer every prompt)",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCampaign(cmd, global, runOpts)
		},
	}
	runOpts.bind(runCmd)

	root.AddCommand(runCmd, newProxiesCmd(global), newWatchCmd(global))
	return root
}
