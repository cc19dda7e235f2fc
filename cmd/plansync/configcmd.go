package main

import (
	"os"

	"github.com/cohenjo/plansync/pkg/config"
	"github.com/spf13/cobra"
)

var templateFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Work with plansync configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Print a config file holding every default",
	Example: `  plansync config init > plansync.yaml
  plansync config init --format json > plansync.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return config.WriteTemplate(os.Stdout, templateFormat)
	},
}

func init() {
	configInitCmd.Flags().StringVar(&templateFormat, "format", "yaml", "template format: yaml or json")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
