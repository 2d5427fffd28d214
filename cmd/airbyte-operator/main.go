package main

import (
	"fmt"
	"os"

	"github.com/cuemby/airbyte-operator/pkg/config"
	"github.com/cuemby/airbyte-operator/pkg/log"
	"github.com/cuemby/airbyte-operator/pkg/plan"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "airbyte-operator",
	Short: "Keep an Airbyte server converged to its configuration",
	Long: `airbyte-operator runs the Airbyte server processes and keeps them
converged to the plans derived from the delivered facts (peer readiness,
database and object-storage connections) and the user configuration.

Facts are read from a directory of YAML files; configuration from a YAML or
TOML file. Both are watched for changes.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{
			Level:      log.ParseLevel(level),
			JSONOutput: jsonOutput,
			Output:     os.Stderr,
		})
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"airbyte-operator version %s (Airbyte %s)\nCommit: %s\nBuilt: %s\n",
		Version, plan.Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Configuration file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().String("facts-dir", "/var/lib/airbyte-operator/facts", "Directory of fact files")
	rootCmd.PersistentFlags().String("log-level", "info", "Operator log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(factsCmd)
	rootCmd.AddCommand(checkDBCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(sealStateCmd)
}

// loadConfig reads the configuration file, or returns the defaults with
// proxy settings from the environment when no file is given
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		cfg.ProxyFromEnv(os.Getenv)
		cfg.Normalize()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}
