// Package cli implements the settlectl command tree.
package cli

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/settle/config"
)

const (
	configName = "settle"
	configType = "toml"
)

// Execute runs settlectl with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree. Each call gets its own viper
// instance, so commands can be executed repeatedly in tests.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "settlectl",
		Short:         "Run and operate a settle settlement server",
		Long:          "settlectl serves the settle HTTP API, migrates its store and manages its TOML configuration.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to a settle.toml file")
	flags.String("store", "", "store driver: memory, sqlite, postgres or mongo")
	flags.String("dsn", "", "store connection string")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("store.driver", flags.Lookup("store"))
	_ = v.BindPFlag("store.dsn", flags.Lookup("dsn"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(v),
		newMigrateCmd(v),
		newConfigCmd(v),
	)
	return rootCmd
}

// loadConfig layers defaults, the config file, the environment and flags.
// The file is --config when given, otherwise settle.toml found in the
// working directory or $HOME/.config/settle.
func loadConfig(v *viper.Viper) (config.Config, error) {
	cfg := config.Default()

	path := v.GetString("config")
	if path == "" {
		found, err := findConfig()
		if err != nil {
			return cfg, err
		}
		path = found
	}
	if path != "" {
		if err := config.ReadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := config.FromEnv(&cfg); err != nil {
		return cfg, err
	}

	// v only carries flag bindings, so IsSet reports flags the user passed.
	if v.IsSet("store.driver") {
		cfg.Store.Driver = v.GetString("store.driver")
	}
	if v.IsSet("store.dsn") {
		cfg.Store.DSN = v.GetString("store.dsn")
	}
	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("port") {
		cfg.Port = v.GetInt("port")
	}

	return cfg, cfg.Validate()
}

// findConfig returns the first settle.toml on the search path, or "".
func findConfig() (string, error) {
	finder := viper.New()
	finder.SetConfigName(configName)
	finder.SetConfigType(configType)
	finder.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		finder.AddConfigPath(filepath.Join(home, ".config", "settle"))
	}

	err := finder.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		return finder.ConfigFileUsed(), nil
	case errors.As(err, &notFound):
		return "", nil
	default:
		return "", err
	}
}
