package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"apworldmgr/internal/toolchain"

	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	repoPath  string
	logLevel  string
	logFormat string

	// Generate flags
	outputZip string
	outputDir string
	seed      int64
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aptool",
	Short: "Invoke the Archipelago toolchain with stateless-automation ergonomics",
	Long: `aptool wraps the scripts inside an Archipelago clone: it keeps the clone
fast-forwarded, manages the virtualenv the scripts run in, and runs seed
generation into a zip or directory of your choosing.`,
	SilenceUsage: true,
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fast-forward the repository and re-initialize",
	Long: `Update runs 'git fetch' and a fast-forward merge of the upstream branch in the
--repo clone, refusing to touch a dirty checkout, then runs the 'init' steps.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := setupSignalHandler()
		defer cancel()
		return newRunner().Update(ctx)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the venv and install toolchain requirements",
	Long: `Init creates a virtualenv at <repo>/.venv when missing and runs the module
installer. Every other aptool invocation skips the requirements check, so
running 'init' is required after a fresh clone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := setupSignalHandler()
		defer cancel()
		return newRunner().Init(ctx)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <player.yaml>...",
	Short: "Run seed generation from player yaml files",
	Long: `Generate copies the given player yaml files into a temporary Players
directory, runs the generator, and either moves the resulting zip to
--output-zip or extracts it into --output-dir (which must be empty or
absent).`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := setupSignalHandler()
		defer cancel()
		return newRunner().Generate(ctx, toolchain.GenerateOptions{
			OutputZip:   outputZip,
			OutputDir:   outputDir,
			Seed:        seed,
			PlayerYAMLs: args,
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aptool %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", "", "path to an Archipelago clone (required)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	_ = rootCmd.MarkPersistentFlagRequired("repo")

	generateCmd.Flags().StringVar(&outputZip, "output-zip", "", "move the generated zip to this path (overwritten if it exists)")
	generateCmd.Flags().StringVar(&outputDir, "output-dir", "", "extract the generated zip into this directory")
	generateCmd.Flags().Int64Var(&seed, "seed", -1, "forwarded to the generator")
	generateCmd.MarkFlagsMutuallyExclusive("output-zip", "output-dir")

	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(versionCmd)
}

func newRunner() *toolchain.ShellRunner {
	return toolchain.NewShellRunner(repoPath, setupLogger())
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
