package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"irs-keeper/internal/app"
	"irs-keeper/internal/config"
	"irs-keeper/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	network   string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "irskeeper",
	Short:         "Keep interest rate swap pools healthy: oracle buffers and liquidations",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd == versionCmd {
			return nil
		}

		cfg, err := config.Load(cfgFile, network)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().StringVarP(&network, "network", "n", "", "Network to operate on (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(enforceCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
