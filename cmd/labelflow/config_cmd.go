package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/logflow/labelflow/pkg/tui"
)

var saveConfig bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration after layering config files, environment
variables and the job file.

With --save the configuration is written to ~/.labelflow/config.yaml.`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&saveConfig, "save", false, "Save to ~/.labelflow/config.yaml")
}

func runConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if saveConfig {
		path, err := manager.Save()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved %s\n", path)
		return nil
	}

	data, err := manager.Get().Marshal()
	if err != nil {
		return err
	}
	for _, path := range manager.GetPaths() {
		fmt.Fprintln(out, tui.Comment("loaded "+path))
	}
	fmt.Fprint(out, string(data))
	return nil
}
