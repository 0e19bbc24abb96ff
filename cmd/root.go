// Package cmd is the goscan command line: the gateway server and the
// desktop and mobile device clients.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goscan/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile string
	verbose bool

	// logLevel is shared with the config watcher so log.level reloads live.
	logLevel = new(slog.LevelVar)
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "goscan",
		Short: "Pair a phone with a desktop and relay document scans",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				setupLogging(config.Default().Log)
				return
			}
			setupLogging(cfg.Log)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default $GOSCAN_CONFIG or ~/.goscan/config.json5)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(serveCmd())
	root.AddCommand(desktopCmd())
	root.AddCommand(mobileCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())
	return root
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the goscan version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("goscan", Version)
		},
	}
}

// resolveConfigPath picks --config, then $GOSCAN_CONFIG, then the default.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := os.Getenv("GOSCAN_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".goscan", "config.json5")
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(lc config.LogConfig) {
	applyLogLevel(lc.Level)
	opts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler
	if strings.EqualFold(lc.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func applyLogLevel(level string) {
	if verbose {
		logLevel.Set(slog.LevelDebug)
		return
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	logLevel.Set(l)
}
