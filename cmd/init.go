package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/batmaniv/batmand/config"
)

// DefaultConfigPath is where run reads and init writes the config file
// absent an explicit --config flag.
const DefaultConfigPath = "batmand.yaml"

var initCmd = &cobra.Command{
	Use:   "init [main-address] [interface]",
	Short: "Write a starter config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.Flag("config").Value.String()
		if _, err := os.Stat(out); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", out)
		}

		cfg := config.Default()
		cfg.MainAddress = args[0]
		cfg.Interface = args[1]

		if err := config.Validate(&cfg); err != nil {
			return err
		}
		if err := config.Save(out, &cfg); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringP("config", "c", DefaultConfigPath, "config output path")
}
