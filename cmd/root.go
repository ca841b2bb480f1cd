package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"Murmur/pkg/app"
	"Murmur/pkg/config"
	"Murmur/pkg/logging"
)

var (
	version = "dev"
	commit  = "unknown"

	configPath string
	envFile    string
	providerID string
	logLevel   string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "murmur",
	Short: "Terminal chat client with optimistic sends and offline history",
	Long: `Murmur connects to a chat backend (REST server, Slack or the built-in mock),
keeps conversations consistent across sends and real-time events, and caches
history locally so it is readable offline.`,
	Version:           fmt.Sprintf("%s (commit: %s)", version, commit),
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command until it returns or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.CloseAllLoggers()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with MURMUR_* variables")
	rootCmd.PersistentFlags().StringVarP(&providerID, "provider", "p", "", "provider to use (mock, rest, slack)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "minimum log level")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "also log to stderr")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	if providerID != "" {
		loaded.Provider.ID = providerID
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	var console io.Writer
	if verbose {
		console = os.Stderr
	}
	if err := logging.Configure(loaded.Log.Dir, loaded.Log.Level, console); err != nil {
		return err
	}
	if loaded.Log.RetentionDays > 0 {
		if _, err := logging.CleanupOldLogs(loaded.Log.RetentionDays); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: log cleanup failed: %v\n", err)
		}
	}
	cfg = loaded
	return nil
}

// withApp starts a client for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(cfg, app.Options{Notifier: stderrNotifier{}})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", err)
		}
	}()
	ctx := cmd.Context()
	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}
