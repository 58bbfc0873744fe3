package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var discoverOutput string

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Snapshot the live database schema",
	Long: `Connect to the configured database and write its schema as a snapshot
YAML, grouping tables into modules by database schema (schema_per_module)
or under source.module.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if a.cfg.Source.Type == "" {
			return fmt.Errorf("no source database configured; set source.type in the config")
		}

		fmt.Printf("Connecting to %s at %s:%d/%s...\n",
			a.cfg.Source.Type, a.cfg.Source.Host, a.cfg.Source.Port, a.cfg.Source.Database)
		snap, err := a.engine.Discover(cmd.Context())
		if err != nil {
			return fmt.Errorf("discovering schema: %w", err)
		}

		fmt.Println(snap.Summary())

		if err := snap.WriteYAML(discoverOutput); err != nil {
			return fmt.Errorf("writing schema: %w", err)
		}
		fmt.Printf("\nSnapshot written to %s\n", discoverOutput)
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", "schema.yaml", "output path for the snapshot YAML")
	rootCmd.AddCommand(discoverCmd)
}
