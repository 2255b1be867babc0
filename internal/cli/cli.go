// Package cli implements the zion command-line interface.
//
// # Commands
//
//   - init: write a minimal zion.toml
//   - add, remove: install or drop packages
//   - update: re-download every package and record changes
//   - fetch: install what the manifest and lock describe
//   - lock: record manifest entries in the lock without downloading
//   - list, info: show declared packages
//   - cache: inspect or clear the archive cache
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. The logger
// is passed through context.Context.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/matzehuels/zion/internal/config"
	"github.com/matzehuels/zion/pkg/buildinfo"
	"github.com/matzehuels/zion/pkg/cache"
	"github.com/matzehuels/zion/pkg/fetch"
	"github.com/matzehuels/zion/pkg/httputil"
	"github.com/matzehuels/zion/pkg/project"
	"github.com/matzehuels/zion/pkg/scheduler"
)

// appName is the application name used for display.
const appName = "zion"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	cfg         *config.Config
	configFile  string
	dir         string
	concurrency int
	noProgress  bool
	verbose     bool
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
	c.verbose = level <= log.DebugLevel
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "zion manages the dependencies of Zig projects",
		Long: `zion fetches Zig packages from source archives, records them in zion.toml
and zion.lock, extracts them under deps/ and wires them into build.zig.`,
		Version:           buildinfo.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	root.SetVersionTemplate(buildinfo.Template())

	flags := root.PersistentFlags()
	flags.StringVarP(&c.dir, "dir", "C", ".", "project directory")
	flags.StringVar(&c.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/zion/config.toml)")
	flags.IntVar(&c.concurrency, "concurrency", 0, "parallel downloads (default from config)")
	flags.BoolVar(&c.noProgress, "no-progress", false, "disable the progress view")

	root.AddCommand(c.initCommand())
	root.AddCommand(c.addCommand())
	root.AddCommand(c.removeCommand())
	root.AddCommand(c.updateCommand())
	root.AddCommand(c.fetchCommand())
	root.AddCommand(c.lockCommand())
	root.AddCommand(c.listCommand())
	root.AddCommand(c.infoCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.versionCommand())

	return root
}

// setup loads the configuration and attaches the logger to the command
// context.
func (c *CLI) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.Options{ConfigFile: c.configFile})
	if err != nil {
		return err
	}
	if c.concurrency > 0 {
		cfg.Concurrency = c.concurrency
	}
	c.cfg = cfg

	if !c.verbose {
		if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
			c.Logger.SetLevel(level)
		} else {
			c.Logger.Warn("unknown log level, using info", "log_level", cfg.LogLevel)
		}
	}
	installLogHooks(c.Logger)
	if cfg.File != "" {
		c.Logger.Debug("loaded config", "file", cfg.File)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(withLogger(ctx, c.Logger))
	return nil
}

func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), appName+" "+buildinfo.String())
			return nil
		},
	}
}

// =============================================================================
// Project Factory
// =============================================================================

// session is a project plus the resources backing it.
type session struct {
	project *project.Project
	cache   cache.Cache
}

func (s *session) Close() error {
	return s.cache.Close()
}

// openProject wires the fetch stack from the configuration. onProgress,
// when set, receives scheduler progress for batch flows.
func (c *CLI) openProject(ctx context.Context, onProgress func(scheduler.Progress)) (*session, error) {
	root, err := c.projectRoot()
	if err != nil {
		return nil, err
	}

	rc, err := c.newResolveCache(ctx)
	if err != nil {
		return nil, err
	}

	client := httputil.NewClient(c.cfg.HTTPTimeout)
	resolver := fetch.NewResolver(fetch.ResolverOptions{
		Host:     c.cfg.Host,
		Branches: c.cfg.Branches,
		Client:   client,
		Cache:    rc,
		TTL:      c.cfg.ResolveTTL,
		Logger:   c.Logger,
	})

	opts := fetch.Options{
		CacheDir: c.cfg.CacheDir,
		Resolver: resolver,
		Primary:  fetch.NewHTTPTransfer(client, c.Logger),
		Logger:   c.Logger,
	}
	if curl, err := exec.LookPath("curl"); err == nil {
		opts.Fallback = &fetch.CurlTransfer{Path: curl}
	}
	fetcher := fetch.New(opts)

	sched := scheduler.New(fetcher, scheduler.Options{
		Concurrency: c.cfg.Concurrency,
		Attempts:    c.cfg.Retries,
		BaseDelay:   c.cfg.BaseDelay,
		OnProgress:  onProgress,
		Logger:      c.Logger,
	})

	p := project.Open(afero.NewOsFs(), root, project.Options{
		Fetcher:   fetcher,
		Scheduler: sched,
		Logger:    c.Logger,
	})
	return &session{project: p, cache: rc}, nil
}

func (c *CLI) projectRoot() (string, error) {
	return filepath.Abs(c.dir)
}

// newResolveCache returns the resolution cache selected by resolve_cache.
func (c *CLI) newResolveCache(ctx context.Context) (cache.Cache, error) {
	switch c.cfg.ResolveCache {
	case config.ResolveCacheRedis:
		rc, err := cache.NewRedisCache(ctx, c.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return cache.NewScoped(rc, appName+":"), nil
	case config.ResolveCacheNone:
		return cache.NewNullCache(), nil
	default:
		fc, err := cache.NewFileCache(c.cfg.ResolveDir())
		if err != nil {
			c.Logger.Warn("resolution cache unavailable", "dir", c.cfg.ResolveDir(), "err", err)
			return cache.NewNullCache(), nil
		}
		return fc, nil
	}
}

// showProgress reports whether batch flows render the live progress view.
func (c *CLI) showProgress() bool {
	if c.noProgress || c.verbose || !c.cfg.Progress {
		return false
	}
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
