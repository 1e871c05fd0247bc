package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "maestro",
		Short:         "Strategy-driven trading engine",
		Long:          "maestro runs scalping and swing strategies against a simulated or live price feed,\nmanaging risk-gated orders and recording their performance.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "config.yaml", "Configuration file path")
	root.PersistentFlags().String("env", ".env", "Environment file with credentials")

	root.AddCommand(newRunCmd())
	root.AddCommand(newMetricsCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "maestro %s\n", version)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", path)
			fmt.Fprintf(out, "  mode:       %s\n", cfg.Mode)
			fmt.Fprintf(out, "  symbols:    %v\n", cfg.Symbols)
			for _, s := range cfg.Strategies {
				state := "disabled"
				if s.Enabled {
					state = "enabled"
				}
				fmt.Fprintf(out, "  strategy:   %s (%s, %s)\n", s.ID, s.Type, state)
			}
			return nil
		},
	}
}
