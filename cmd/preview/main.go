// Command preview builds and serves live previews of multi-file React/TS
// projects: every change to the workspace yields a self-contained document
// that runs in a sandboxed frame.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"livepreview/internal/config"
	"livepreview/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	timeout    time.Duration

	// Loaded by PersistentPreRunE.
	cfg    *config.Config
	logger *zap.Logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "preview",
	Short: "Live preview for generated React/TS projects",
	Long: `preview turns a directory of React/TypeScript files into a single
self-contained page: every file is compiled on its own, local imports are
rewritten to project paths and an import map ties them together with the
allowed external packages. The page runs in a sandboxed frame and is rebuilt
whenever the project changes.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(resolveConfigPath())
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if err := logging.Initialize(cfg.Logging.Options()); err != nil {
			return err
		}
		logger = logging.Root()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Project directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/"+config.DefaultPath+")")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Timeout for one-shot commands (default: build.timeout)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// workspaceDir returns the absolute project directory.
func workspaceDir() string {
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(ws); err == nil {
		return abs
	}
	return ws
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(workspaceDir(), config.DefaultPath)
}

// inWorkspace resolves a config path relative to the workspace.
func inWorkspace(p string) string {
	if p == "" || filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	return filepath.Join(workspaceDir(), p)
}

func oneShotTimeout() time.Duration {
	if timeout > 0 {
		return timeout
	}
	return cfg.GetBuildTimeout()
}
