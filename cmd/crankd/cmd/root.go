// Package cmd implements the crankd command tree.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xraph/crank/ledger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "crankd",
	Short: "Off-chain crank worker",
	Long: `crankd watches queue accounts on a ledger and submits the batches
that advance them. It also serves an in-memory devnet and inspects
queues and recorded attempts.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./crankd.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().String("output", "table", "output format: table or json")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
		"output":     "output",
	})
}

// initConfig reads the config file and CRANK_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("crankd")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("crank")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "crankd: read config: %v\n", err)
			os.Exit(1)
		}
	}
}

// bindFlags binds config keys to the named flags so that flags override
// the config file and environment.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("crankd: bind %s: %v", key, err))
		}
	}
}

// newLogger builds the process logger from log.level and log.format.
func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch viper.GetString("log.format") {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", viper.GetString("log.format"))
	}
}

// parseAddress accepts a hex address or, for devnet use, a name that is
// hashed into one.
func parseAddress(s string) (ledger.Address, error) {
	if s == "" {
		return ledger.ZeroAddress, errors.New("empty address")
	}
	if addr, err := ledger.ParseAddress(s); err == nil {
		return addr, nil
	}
	if strings.HasPrefix(s, "0x") || len(s) == 64 {
		return ledger.ZeroAddress, fmt.Errorf("invalid address %q", s)
	}
	return ledger.NamedAddress(s), nil
}

func jsonOutput() bool { return viper.GetString("output") == "json" }
