package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/cmd/cli/commands"
	"github.com/jakechorley/community-connect/internal/config"
	"github.com/jakechorley/community-connect/pkg/utils/logging"
)

func main() {
	app := &commands.AppContext{Ctx: context.Background()}
	var debug bool
	var logDir string

	rootCmd := &cobra.Command{
		Use:   "community-connect",
		Short: "Community Connect - volunteer opportunities and chat notifications",
		Long: `Runs the Community Connect API and its maintenance tasks: recurring
opportunity management, chat notifications, digests and ledger pruning.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp(app, debug, logDir)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.Logger != nil {
				app.Close()
				_ = app.Logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&app.Env, "env", "e", "", "Environment (required: dev, prod, etc.)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log debug output to the console")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "logs", "Directory for JSON log files (empty to disable)")
	_ = rootCmd.MarkPersistentFlagRequired("env")

	rootCmd.AddCommand(commands.ServeCmd(app))
	rootCmd.AddCommand(commands.MigrateCmd(app))
	rootCmd.AddCommand(commands.AuthorizeCmd(app))
	rootCmd.AddCommand(commands.CreateOpportunityCmd(app))
	rootCmd.AddCommand(commands.DeleteOpportunityCmd(app))
	rootCmd.AddCommand(commands.PostMessageCmd(app))
	rootCmd.AddCommand(commands.SendDigestsCmd(app))
	rootCmd.AddCommand(commands.PruneLedgerCmd(app))
	rootCmd.AddCommand(commands.InteractiveCmd(app))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initApp sets up the logger and configuration. Connections open lazily.
func initApp(app *commands.AppContext, debug bool, logDir string) error {
	var err error

	app.Logger, err = logging.InitLogger(app.Env, logging.Options{Dir: logDir, Debug: debug})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger.Info("Starting application", zap.String("environment", app.Env))

	app.Cfg, err = config.Load(app.Env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.Logger.Debug("Configuration loaded",
		zap.String("database", app.Cfg.Database.Backend),
		zap.String("email", app.Cfg.Email.Provider),
		zap.String("ledger", app.Cfg.Notifications.LedgerBackend))

	return nil
}
