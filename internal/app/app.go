package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dnsscanner/internal/app/version"
	"dnsscanner/internal/config"
	"dnsscanner/internal/supervisor"
)

const (
	defaultLogLevel = "debug"
	binaryName      = "dnsscanner"
)

// Run is the process entry point. The returned error is meant to be fatal.
func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(newEnvironment())
	err := root.ExecuteContext(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("Shutting down")
		return nil
	}
	return describeFailure(err)
}

// describeFailure turns configuration problems into a message telling the
// operator how to fix the invocation.
func describeFailure(err error) error {
	if err == nil {
		return nil
	}
	if supervisor.IsFatal(err) || errors.Is(err, config.ErrInvalidSettings) {
		return fmt.Errorf("invalid arguments: %w. Run \"%s scan --help\"", err, binaryName)
	}
	return err
}

func newRootCommand(env *environment) *cobra.Command {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("SETTINGS_PATH", config.DefaultSettingsPath)

	root := &cobra.Command{
		Use:           binaryName,
		Short:         "Sweep the IPv4 space with HTTP probes and reverse DNS lookups",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLogLevel(v.GetString("LOG_LEVEL"))
			if err != nil {
				return &supervisor.ConfigurationError{Field: "loglevel", Err: err}
			}
			log.SetLevel(level)
			env.settingsPath = v.GetString("SETTINGS_PATH")
			return nil
		},
	}

	root.PersistentFlags().String("loglevel", defaultLogLevel, "Log level (debug|info|warn|error)")
	_ = v.BindPFlag("LOG_LEVEL", root.PersistentFlags().Lookup("loglevel"))

	root.PersistentFlags().String("settings", config.DefaultSettingsPath, "Path to the JSON settings file")
	_ = v.BindPFlag("SETTINGS_PATH", root.PersistentFlags().Lookup("settings"))

	root.AddCommand(
		newScanCommand(env, v),
		newCountCommand(env),
		newRangesCommand(env),
	)
	return root
}

func parseLogLevel(raw string) (log.Level, error) {
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return log.InfoLevel, fmt.Errorf("unknown log level %q", raw)
	}
	return level, nil
}
