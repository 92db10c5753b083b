package credledger

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liftedinit/credledger/internal/config"
	"github.com/liftedinit/credledger/internal/ledger"
)

var (
	validLogLevels = map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	validLogLevelsStr = strings.Join(slices.Sorted(maps.Keys(validLogLevels)), "|")
)

var RootCmd = &cobra.Command{
	Use:   "credledger",
	Short: "Append-only ledger of credential mutations",
	Long:  `credledger records credential mutations as hash-chained blocks and verifies their integrity.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := viper.GetString("logLevel")
		if err := setLogLevel(logLevel); err != nil {
			return err
		}
		slog.Debug("Application started", "version", Version)
		return nil
	},
}

// setLogLevel sets the log level
func setLogLevel(logLevel string) error {
	level, exists := validLogLevels[logLevel]
	if !exists {
		return fmt.Errorf("invalid log level: %s. Valid log levels are: %s", logLevel, validLogLevelsStr)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

func init() {
	RootCmd.PersistentFlags().StringP("logLevel", "l", "info", fmt.Sprintf("set log level (%s)", validLogLevelsStr))
	RootCmd.PersistentFlags().StringP("backend", "b", config.BackendPostgres, "Block store backend (memory|pebble|postgres)")
	RootCmd.PersistentFlags().StringP("postgres-conn", "p", "", "PostgreSQL connection string")
	RootCmd.PersistentFlags().Uint("max-conns", 0, "Maximum PostgreSQL pool connections, 0 keeps the driver default (advanced)")
	RootCmd.PersistentFlags().String("pebble-path", "credledger.db", "Pebble database directory")
	RootCmd.PersistentFlags().UintP("max-retries", "r", ledger.DefaultMaxRetries, "Maximum number of retries when a block index is taken")
	RootCmd.PersistentFlags().String("secret", "", "HS256 secret used for bearer tokens and content hashes")
	if err := viper.BindPFlags(RootCmd.PersistentFlags()); err != nil {
		slog.Error("Failed to bind rootCmd flags", "error", err)
	}

	RootCmd.SilenceUsage = true
	RootCmd.SilenceErrors = true

	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.credledger")
	viper.AddConfigPath("/etc/credledger")

	viper.SetEnvPrefix("credledger")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(VerifyCmd)
	RootCmd.AddCommand(AuditCmd)
	RootCmd.AddCommand(RecordCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := viper.ReadInConfig(); err == nil {
		slog.Info("Using config file", "file", viper.ConfigFileUsed())
	} else {
		slog.Info("No config file found")
	}

	if err := RootCmd.Execute(); err != nil {
		slog.Error("An error occurred", "error", err)
		os.Exit(1)
	}
}
