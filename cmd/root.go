package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"betledger/config"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand builds the betledger command tree
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "betledger",
		Short:         "Group bet ledger: bets, stakes, settlement and points",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			return setupLogging(
				firstNonEmpty(viper.GetString("log-level"), cfg.LogLevel),
				firstNonEmpty(viper.GetString("log-format"), cfg.LogFormat),
			)
		},
	}

	root.PersistentFlags().String("log-level", "", "log level (overrides LOG_LEVEL)")
	root.PersistentFlags().String("log-format", "", "log format: text or json (overrides LOG_FORMAT)")
	_ = viper.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(membersCmd())
	root.AddCommand(usersCmd())
	return root
}

// Execute runs the command tree until ctx is cancelled or the command returns
func Execute(ctx context.Context) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	return NewRootCommand().ExecuteContext(ctx)
}

func setupLogging(level, format string) error {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(parsed)
	log.SetOutput(os.Stderr)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
