package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"apworldmgr/internal/cache"
	"apworldmgr/internal/config"
	"apworldmgr/internal/github"
	"apworldmgr/internal/manager"

	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	repoPath  string
	worldsDir string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "apworldmgr",
	Short: "Keep a custom_worlds directory in sync with upstream apworld releases",
	Long: `apworldmgr tracks a configured list of apworlds against their upstream GitHub
releases. It caches local file digests and remote release metadata so repeated
runs stay cheap, classifies each world as current or outdated, and downloads
or deletes files to reconcile the directory with the configuration.

Running it with no subcommand is the same as 'list'.`,
	SilenceUsage: true,
	Args:         cobra.ArbitraryArgs,
	RunE:         runList,
}

var listCmd = &cobra.Command{
	Use:     "list [names...]",
	Aliases: []string{"ls"},
	Short:   "Show configured worlds against locally cached state",
	Long: `List prints one row per configured world: its name, the release tag the local
file was identified as, and a status. No network requests are made; the rows
reflect whatever the cache knows from the last check.

Without names, files present on disk but absent from the config are appended
as orphans.`,
	RunE: runList,
}

var checkCmd = &cobra.Command{
	Use:   "check [names...]",
	Short: "Refresh release metadata from GitHub, then list",
	Long: `Check asks GitHub for the current release list of every repo-sourced world in
scope, skipping repositories whose cached data is younger than an hour, and
then prints the same table as 'list'.`,
	RunE: runCheck,
}

var updateCmd = &cobra.Command{
	Use:   "update [names...]",
	Short: "Download newest releases and reconcile the directory",
	Long: `Update downloads the newest release asset for every repo-sourced world in
scope that is not already current, using the metadata from the last 'check'
(it never fetches metadata itself). Without names, files not referenced by
any configured world are deleted afterwards.`,
	RunE: runUpdate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("apworldmgr %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/apworldmgr/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", "", "path to an Archipelago clone; manages its custom_worlds/ directory")
	rootCmd.PersistentFlags().StringVar(&worldsDir, "worlds-dir", "", "path directly to the managed custom_worlds directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(versionCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	engine, cfg, _, err := setup()
	if err != nil {
		return err
	}
	scope, err := manager.NewScope(args, cfg)
	if err != nil {
		return err
	}
	return renderRows(os.Stdout, engine.List(scope))
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	engine, cfg, _, err := setup()
	if err != nil {
		return err
	}
	scope, err := manager.NewScope(args, cfg)
	if err != nil {
		return err
	}

	rows, err := engine.Check(ctx, scope)
	if err != nil {
		return err
	}
	return renderRows(os.Stdout, rows)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	engine, cfg, logger, err := setup()
	if err != nil {
		return err
	}
	scope, err := manager.NewScope(args, cfg)
	if err != nil {
		return err
	}

	summary, err := engine.Update(ctx, scope)
	if err != nil {
		logger.Error("update failed", "error", err)
		return err
	}

	if len(summary.Downloaded) == 0 {
		fmt.Println("already up to date")
	} else if len(summary.Downloaded) == 1 {
		fmt.Println("downloaded 1 new item")
	} else {
		fmt.Printf("downloaded %d new items\n", len(summary.Downloaded))
	}
	return nil
}

// setup builds the engine for one invocation: config, env settings, the
// cache (with its file map rebuilt from disk) and the release client.
func setup() (*manager.Engine, *config.Config, *slog.Logger, error) {
	logger := setupLogger()

	dir, err := resolveWorldsDir()
	if err != nil {
		return nil, nil, nil, err
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return nil, nil, nil, err
	}

	c, err := cache.Open(dir)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := c.RefreshFiles(); err != nil {
		return nil, nil, nil, err
	}

	client := github.NewClient(github.Options{
		APIBase:      settings.APIBase,
		DownloadBase: settings.DownloadBase,
		Token:        settings.Token,
		PerPage:      settings.PerPage,
	}, logger)

	return manager.NewEngine(cfg, c, client, logger), cfg, logger, nil
}

// resolveWorldsDir determines the managed directory from --repo or
// --worlds-dir. A custom_worlds dir inside a repo must already exist (aptool
// init creates it); a directly named dir is created on demand.
func resolveWorldsDir() (string, error) {
	switch {
	case repoPath != "" && worldsDir != "":
		return "", fmt.Errorf("--repo and --worlds-dir are mutually exclusive")
	case repoPath != "":
		dir := filepath.Join(repoPath, "custom_worlds")
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return "", fmt.Errorf("custom_worlds directory not found: %s", dir)
		}
		return dir, nil
	case worldsDir != "":
		if err := os.MkdirAll(worldsDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create worlds directory: %w", err)
		}
		return worldsDir, nil
	default:
		return "", fmt.Errorf("one of --repo or --worlds-dir is required")
	}
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "apworldmgr", "config.yaml")
}

// renderRows prints the classification table in aligned columns.
func renderRows(w io.Writer, rows []manager.Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Name, row.Version, row.Status)
	}
	return tw.Flush()
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
