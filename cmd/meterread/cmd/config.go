package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/meterread/internal/config"
	"github.com/spf13/cobra"
)

// configCmd groups the configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and generate configuration files",
	Long: `Inspect the effective configuration or write a default configuration file.

Settings are merged from defaults, the first meterread.yaml found on the
search path, METERREAD_* environment variables and command-line flags.`,
}

var configInitCmd = &cobra.Command{
	Use:          "init",
	Short:        "Write a default configuration file",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		force, _ := cmd.Flags().GetBool("force")
		if err := config.GenerateDefaultConfigFile(file, force); err != nil {
			return err
		}
		if file == "" {
			file = config.ConfigFileName + ".yaml"
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", file)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:          "show",
	Short:        "Print the effective configuration",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		cfg := GetConfig()
		switch format {
		case "yaml":
			return config.WriteYAML(cmd.OutOrStdout(), *cfg)
		case outputFormatJSON:
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		default:
			return fmt.Errorf("invalid format: %s (must be one of: yaml, json)", format)
		}
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show where configuration files are searched",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(out, "Using: %s\n", used)
		} else {
			_, _ = fmt.Fprintln(out, "Using: defaults (no config file found)")
		}
		_, _ = fmt.Fprintln(out, "Search paths:")
		for _, p := range config.GetConfigSearchPaths() {
			_, _ = fmt.Fprintf(out, "  %s\n", p)
		}
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd)

	configInitCmd.Flags().String("file", "", "output file (default: meterread.yaml)")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configShowCmd.Flags().String("format", "yaml", "output format (yaml, json)")
}
