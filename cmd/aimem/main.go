package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hession/aimem/internal/cli"
	"github.com/hession/aimem/internal/config"
	"github.com/hession/aimem/internal/logger"
	"github.com/hession/aimem/internal/memory"
)

var (
	version = "0.1.0"
)

// rootOptions flags shared by all subcommands
type rootOptions struct {
	configDir string
	sessionID string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "aimem",
		Short: "aimem - tiered conversational memory for LLM agents",
		Long: `aimem keeps a bounded short-term message buffer, flushes overflow into
long-term memory blocks (static text, extracted facts, vector recall) and
merges both into one token-budgeted view of the conversation.

Run without a subcommand to open the interactive inspection shell.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", "", "Configuration directory (default: ./config)")
	rootCmd.PersistentFlags().StringVarP(&opts.sessionID, "session", "s", "", "Session id (default: a new session)")

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Open the interactive inspection shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd, opts)
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Print the full message history of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			app, err := openApp(opts, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			msgs, err := app.Manager.GetAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatMessages(msgs, 0))
			return nil
		},
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store, err := memory.NewSQLiteSessionStore(cfg.Storage.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSessions(list, opts.sessionID))
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear a session and its long-term memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			app, err := openApp(opts, func(cfg *config.Config) {
				cfg.Memory.ResetClearsSession = true
			})
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Manager.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s cleared\n", opts.sessionID)
			return nil
		},
	}

	replayCmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Feed a JSONL file of messages through memory and print the merged view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer f.Close()
				in = f
			}

			app, err := openApp(opts, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			return replay(cmd, app, in)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.String())

			path, _ := config.ConfigPath()
			fmt.Fprintf(cmd.OutOrStdout(), "\nConfig file path: %s\n", path)
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "aimem v%s\n", version)
		},
	}

	rootCmd.AddCommand(shellCmd, historyCmd, sessionsCmd, resetCmd, replayCmd, configCmd, versionCmd)
	return rootCmd
}

// loadConfig reads the configuration and starts the file logger
func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.configDir != "" {
		config.SetConfigDir(opts.configDir)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, _ := logger.ParseLevel(cfg.Log.Level)
	if err := logger.Init(logger.Config{
		LogDir:     cfg.LogDir(),
		Level:      level,
		MaxDays:    cfg.Log.MaxDays,
		ConsoleOut: cfg.Log.Console,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", err)
	}
	logConfigInfo(cfg)
	return cfg, nil
}

// logConfigInfo records the effective settings without secrets
func logConfigInfo(cfg *config.Config) {
	logger.Info("Config loaded: model=%s, embedding=%s, limit=%d, ratio=%.2f, flush=%d, blocks=%d, api key configured=%v",
		cfg.Model.Model, cfg.Embedding.Model, cfg.Memory.TokenLimit, cfg.Memory.ChatHistoryTokenRatio,
		cfg.Memory.TokenFlushSize, len(cfg.Memory.Blocks), cfg.IsAPIKeyConfigured())
}

func openApp(opts *rootOptions, adjust func(*config.Config)) (*cli.App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(cfg)
	}

	prompts, err := config.LoadPromptConfig()
	if err != nil {
		return nil, err
	}

	return cli.Open(cfg, prompts, cli.Options{
		SessionID: opts.sessionID,
		OnWarning: cli.PrintWarning,
	})
}

func runShell(cmd *cobra.Command, opts *rootOptions) error {
	app, err := openApp(opts, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	return cli.RunShell(cmd.Context(), app)
}

func replay(cmd *cobra.Command, app *cli.App, in io.Reader) error {
	ctx := cmd.Context()
	n, err := cli.Replay(ctx, app.Manager, in)
	if err != nil {
		return err
	}

	view, err := app.Manager.Render(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Replayed %d messages into session %s\n\n", n, app.Manager.SessionID())
	fmt.Fprintln(out, cli.FormatView(view, app.Config.Memory.TokenLimit))
	return nil
}
