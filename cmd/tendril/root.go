package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tendril/internal/config"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/spf13/cobra"
)

var (
	v      = config.New()
	cfg    *config.Config
	logger = logging.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "tendril",
	Short: "Tendril is a multi-tenant conversation flow engine",
	Long: `Tendril runs declarative chat flows (menus, branches, variables) for many
tenants and channels, keeping one session per end user.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// persistentKeys maps persistent flags to config keys.
var persistentKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"storage-driver": "storage.driver",
	"storage-dsn":    "storage.dsn",
	"flows-dir":      "flows.dir",
}

func init() {
	// Persistent flags (available to all commands)
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("env-file", ".env", "Path to a .env file (ignored when missing)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("storage-driver", config.DriverMemory, "Storage driver (memory, file, redis, postgres, sqlite)")
	flags.String("storage-dsn", "", "SQL connection string or file store directory")
	flags.String("flows-dir", "", "Serve flows from {dir}/{tenant}/*.yaml")
}

func setupConfig(cmd *cobra.Command, args []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	if err := config.BindFlags(v, cmd.Flags(), persistentKeys); err != nil {
		return err
	}
	if keys, ok := commandKeys[cmd.Name()]; ok {
		if err := config.BindFlags(v, cmd.Flags(), keys); err != nil {
			return err
		}
	}

	file, _ := cmd.Flags().GetString("config")
	loaded, err := config.Load(v, file)
	if err != nil {
		return err
	}
	cfg = loaded
	logger = logging.New(logging.ParseLevel(cfg.Log.Level), logging.Format(cfg.Log.Format))
	slog.SetDefault(logger)
	return nil
}

// commandKeys maps command local flags to config keys.
var commandKeys = map[string]map[string]string{}
