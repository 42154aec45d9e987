package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "stepwise",
	Short:         "Stepwise runs multi-step workflow definitions as tracked executions",
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `Stepwise stores workflow definitions (ordered TOOL, CONDITION and DELAY
steps), runs them asynchronously and records every execution, step and event.
It is served over a REST API with SSE event streams and over MCP.`,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "settings file (default ~/.stepwise/settings.{yaml,json})")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("db-driver", driverLibSQL, "database driver: libsql or postgres")
	pf.String("db-path", "", "libsql database path (default ~/.stepwise/stepwise.db)")
	pf.String("db-dsn", "", "postgres connection string")

	_ = v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = v.BindPFlag("log.format", pf.Lookup("log-format"))
	_ = v.BindPFlag("db.driver", pf.Lookup("db-driver"))
	_ = v.BindPFlag("db.dsn", pf.Lookup("db-dsn"))

	rootCmd.AddCommand(serveCmd, mcpCmd, migrateCmd, seedCmd, runCmd, scheduleCmd, diagramCmd, versionCmd)
}

// config loads the layered configuration. --db-path only overrides when set
// so its empty default does not mask the computed default path.
func config(cmd *cobra.Command) (Config, error) {
	if f := cmd.Flags().Lookup("db-path"); f != nil && f.Changed {
		v.Set("db.path", f.Value.String())
	}
	return loadConfig(v, cfgFile)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
