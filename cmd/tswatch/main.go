// Command tswatch compiles a TypeScript project and recompiles the files
// affected by every change until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ritzau/tswatch/pkg/config"
	"github.com/ritzau/tswatch/pkg/host/oshost"
	"github.com/ritzau/tswatch/pkg/logging"
	"github.com/ritzau/tswatch/pkg/tsconfig"
	"github.com/ritzau/tswatch/pkg/watcher"
	"github.com/ritzau/tswatch/pkg/web"
)

// exitError carries the compiler exit status out of RunE.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

var rootCmd = &cobra.Command{
	Use:   "tswatch [file...]",
	Short: "Incrementally compile TypeScript in watch mode",
	Long: `tswatch builds a TypeScript project, then watches its files, config and
lookup locations and re-emits only the files affected by each change.

Without arguments the nearest tsconfig.json is used; explicit files are
compiled with default options instead.`,
	Example: `  # Watch the project in the current directory
  tswatch

  # Watch a specific project and serve build status on :8080
  tswatch -p packages/app --serve

  # Build once and exit with the compiler status
  tswatch --once`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringP("project", "p", "", "Path to tsconfig.json or a directory containing one")
	f.Duration("debounce", watcher.DefaultDebounce, "Quiet period before a rebuild starts")
	f.String("verbosity", "", "Log level (trace, debug, info, warn, error)")
	f.CountP("verbose", "v", "Increase log verbosity (-v debug, -vv trace)")
	f.Bool("json-logs", false, "Write logs as JSON")
	f.String("lib-dir", "", "Directory holding the default library files")
	f.Bool("serve", false, "Serve build status over HTTP")
	f.Int("port", 8080, "Port for the status server (with --serve)")
	f.String("case-sensitive", "auto", "File name case sensitivity (auto, true, false)")
	f.String("new-line", "", "Line ending of emitted files (lf, crlf)")
	f.Bool("once", false, "Build once and exit")
	f.Bool("color", true, "Colour diagnostics when writing to a terminal")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Files = args
	}

	caseSensitive, _ := cfg.CaseSensitivity()
	newLine, _ := cfg.NewLineString()
	sys, err := oshost.New(oshost.Options{
		Out:           os.Stdout,
		NewLine:       newLine,
		CaseSensitive: caseSensitive,
		LibDir:        cfg.LibDir,
	})
	if err != nil {
		return err
	}
	defer sys.Close()

	level, _ := cfg.LogLevel()
	logging.Configure(logging.Options{
		Level: level,
		JSON:  cfg.JSONLogs,
		Root:  sys.CurrentDirectory(),
		Color: cfg.Color && !color.NoColor,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var server *web.Server
	opts := watcher.Options{
		Debounce: cfg.Debounce,
		Color:    cfg.Color && !color.NoColor,
	}
	if cfg.Serve {
		server = web.NewServer(sys.CurrentDirectory(), sys.UseCaseSensitiveFileNames())
		defer server.Close()
		opts.OnBuild = func(res watcher.BuildResult) {
			if err := server.PublishBuild(res); err != nil {
				logging.Warn("failed to publish build", "id", res.ID, "error", err)
			}
		}
		opts.OnStateChange = func(s watcher.State) {
			server.PublishState(s)
		}
		go func() {
			if err := server.Start(ctx, cfg.Port); err != nil {
				logging.Error("status server stopped", "error", err)
				stop()
			}
		}()
	}

	w, err := newWatch(sys, cfg, opts)
	if err != nil {
		return err
	}
	defer w.Close()

	if cfg.Once {
		if code := int(w.LastResult().ExitStatus); code != 0 {
			return exitError{code}
		}
		return nil
	}

	if err := sys.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newWatch(sys *oshost.Host, cfg *config.Config, opts watcher.Options) (*watcher.Watch, error) {
	cwd := sys.CurrentDirectory()
	if len(cfg.Files) > 0 && cfg.Project == "" {
		logging.Debug("Watching root files", "count", len(cfg.Files))
		return watcher.NewWithRootFiles(sys, cfg.Files, tsconfig.Options{}, opts)
	}

	var configPath string
	if cfg.Project != "" {
		configPath = tsconfig.ResolveProject(sys, cwd, cfg.Project)
	} else if configPath = tsconfig.FindConfigFile(sys, cwd); configPath == "" {
		return nil, fmt.Errorf("no %s found in %s or its parents; pass --project or files", tsconfig.DefaultName, cwd)
	}
	logging.Debug("Watching project", "config", configPath)
	return watcher.NewWithConfigFile(sys, configPath, opts)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
