package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/porthorian/hashpolicy"
	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

type rootOptions struct {
	ConfigPath string
	Verbosity  int
	LogFormat  string
}

var options rootOptions

var rootCmd = &cobra.Command{
	Use:          "hashpolicy",
	Short:        "Password hashing policy CLI",
	Long:         "CLI for hashing, verifying and upgrading password credentials under a hashing policy.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&options.ConfigPath, "config", "", "Path to a YAML config file. Can also be set via "+hashpolicy.EnvConfigPath+".")
	rootCmd.PersistentFlags().IntVarP(&options.Verbosity, "verbose", "v", 0, "Log verbosity; 1 enables backend and request logs.")
	rootCmd.PersistentFlags().StringVar(&options.LogFormat, "log-format", "text", "Log format: text or json.")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of hashpolicy",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
}

func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds a logr.Logger over slog. logr V(n) maps to slog level -n.
func newLogger(cmd *cobra.Command) (logr.Logger, error) {
	handlerOptions := &slog.HandlerOptions{Level: slog.Level(-options.Verbosity)}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(options.LogFormat)) {
	case "", "text":
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), handlerOptions)
	case "json":
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), handlerOptions)
	default:
		return logr.Logger{}, fmt.Errorf("unsupported --log-format %q: expected text or json", options.LogFormat)
	}

	return logr.FromSlogHandler(handler), nil
}

// loadFileConfig reads --config or HASHPOLICY_CONFIG. Without either it
// returns the built-in providers over in-memory storage.
func loadFileConfig() (hashpolicy.FileConfig, error) {
	path := strings.TrimSpace(options.ConfigPath)
	if path == "" {
		path = lookupEnv(hashpolicy.EnvConfigPath)
	}
	if path == "" {
		config := hashpolicy.FileConfig{}
		config.Runtime.Storage.Backend = hashpolicy.StorageBackendMemory
		if dsn := lookupEnv(hashpolicy.EnvDatabaseURL); dsn != "" {
			config.Runtime.Storage.Backend = hashpolicy.StorageBackendPostgres
			config.Runtime.Storage.Postgres.DSN = dsn
		}
		return config, nil
	}
	return hashpolicy.LoadFileConfig(path)
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
