// Command slavik runs the chat bot on the configured transport.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/slavik/internal/config"
	"github.com/stupiduntilnot/slavik/internal/console"
	"github.com/stupiduntilnot/slavik/internal/logging"
)

var (
	verbose bool

	consoleUser    string
	consoleHistory string
)

var rootCmd = &cobra.Command{
	Use:   "slavik",
	Short: "Group chat bot that keeps a rolling context per chat",
	Long: `slavik listens to a chat transport, keeps a bounded history of every
conversation and answers messages addressed to it through a completion
provider. Configuration comes from SLAVIK_*, TG_*, OPENAI_* and GEMINI_*
environment variables.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWorkerConfig()
		if err != nil {
			return err
		}
		return start(cmd, cfg)
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Chat with the bot from the terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWorkerConfigFor(config.TransportConsole)
		if err != nil {
			return err
		}
		if os.Getenv("SLAVIK_LOG_FORMAT") == "" {
			cfg.LogFormat = "console"
		}
		return start(cmd, cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	consoleCmd.Flags().StringVarP(&consoleUser, "user", "u", "you", "name the bot sees for console messages")
	consoleCmd.Flags().StringVar(&consoleHistory, "history", "", "readline history file")
	rootCmd.AddCommand(consoleCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func start(cmd *cobra.Command, cfg config.WorkerConfig) error {
	if verbose {
		cfg.LogLevel = "debug"
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	commander, err := newCommander(cfg, console.Config{User: consoleUser, HistoryFile: consoleHistory})
	if err != nil {
		return fmt.Errorf("failed to init commander: %w", err)
	}
	if c, ok := commander.(*console.Console); ok {
		defer c.Close()
	}

	if err := run(cmd.Context(), cfg, logger, commander); err != nil {
		logger.Error("slavik stopped", zap.Error(err))
		return err
	}
	return nil
}
