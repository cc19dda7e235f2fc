package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cohenjo/plansync/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile   string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "plansync",
	Short: "Mirror tracking plans, events and properties into a Notion workspace",
	Long: `plansync reads tracking plans, their events and the global property
catalog from RudderStack and rebuilds them as Notion databases.

Every run archives the collections created by the previous run and
recreates them; destination ids are kept in an identity cache so event
records can relate to the property records of the same run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       config.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: plansync.yaml in ., ./config or /etc/plansync)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "report format: table or json")
}

// loadConfig reads the config file and environment and prepares logging
func loadConfig() (*config.Config, *config.Loader, *logrus.Logger, io.Closer, error) {
	loader := config.NewLoader(config.LoaderOptions{ConfigFile: configFile})
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger, closer, err := config.SetupLogging(cfg.Logging)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	if used := loader.ConfigFileUsed(); used != "" {
		logger.WithField("file", used).Debug("Loaded config file")
	}
	return cfg, loader, logger, closer, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
