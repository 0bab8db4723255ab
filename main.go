package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sadopc/blockr/internal/cache"
	"github.com/sadopc/blockr/internal/config"
	"github.com/sadopc/blockr/internal/export"
	"github.com/sadopc/blockr/internal/guest"
	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/remote"
	"github.com/sadopc/blockr/internal/store"
	"github.com/sadopc/blockr/internal/syncer"
	"github.com/sadopc/blockr/internal/tui"
)

// cmdTimeout bounds each one-shot subcommand.
const cmdTimeout = 2 * time.Minute

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags override the matching BLOCKR_* settings when set.
type globalFlags struct {
	dbPath   string
	logLevel string
	apiURL   string
}

// NewRootCmd builds the blockr command tree; exposed for tests.
func NewRootCmd() *cobra.Command {
	var (
		flags       globalFlags
		metricsAddr string
	)

	root := &cobra.Command{
		Use:           "blockr",
		Short:         "Time blocking and pomodoros in the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, flags, metricsAddr)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.dbPath, "db", "", "database path (overrides BLOCKR_DB_PATH)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (overrides BLOCKR_LOG_LEVEL)")
	pf.StringVar(&flags.apiURL, "api-url", "", "remote service URL (overrides BLOCKR_API_URL)")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	root.AddCommand(
		newFlushCmd(&flags),
		newStatusCmd(&flags),
		newExportCmd(&flags),
		newUpgradeCmd(&flags),
	)
	return root
}

// env is everything a command needs, opened from config.
type env struct {
	cfg    *config.Config
	log    zerolog.Logger
	closer io.Closer
	kv     *store.Store
	guest  *guest.Store
	sync   *syncer.Coordinator
}

func loadConfig(cmd *cobra.Command, flags globalFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	pf := cmd.Flags()
	if pf.Changed("db") {
		cfg.DBPath = flags.dbPath
	}
	if pf.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if pf.Changed("api-url") {
		cfg.APIURL = flags.apiURL
	}
	return cfg, nil
}

func openEnv(cfg *config.Config, sink config.Sink) (*env, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	logger, closer := config.NewLogger(cfg, sink)

	kv, err := store.New(cfg.DBPath)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	deps := syncer.Deps{
		Cache:  cache.New(kv, logger, time.Now),
		Guest:  guest.New(kv, logger, time.Now),
		KV:     kv,
		Logger: logger,
		Now:    time.Now,
	}
	if cfg.Online() {
		deps.Remote = remote.NewClient(cfg.ClientOptions())
		if cfg.RealtimeURL != "" {
			deps.Realtime = syncer.SubscriberRealtime(remote.NewSubscriber(cfg.SubscriberOptions(logger)))
		}
	}

	opts := syncer.DefaultOptions()
	opts.Retry = cfg.Retry()
	opts.CacheMaxAge = cfg.CacheMaxAge

	return &env{
		cfg:    cfg,
		log:    logger,
		closer: closer,
		kv:     kv,
		guest:  deps.Guest,
		sync:   syncer.New(deps, opts),
	}, nil
}

// start selects the owner from config. Without a remote service configured
// records stay local. An unreachable service with no cache is not fatal, the
// views show the outage and a later load can recover.
func (e *env) start(ctx context.Context) error {
	mode := e.cfg.Mode()
	if mode == model.Authenticated && !e.cfg.Online() {
		e.log.Warn().Msg("no API URL configured, using local records")
		mode = model.Guest
	}
	err := e.sync.SetMode(ctx, mode, e.cfg.UserID)
	if errors.Is(err, syncer.ErrDataUnavailable) {
		e.log.Warn().Err(err).Msg("initial load failed")
		return nil
	}
	return err
}

func (e *env) Close() {
	e.sync.Close()
	if err := e.kv.Close(); err != nil {
		e.log.Warn().Err(err).Msg("close database failed")
	}
	e.closer.Close()
}

// withEnv opens an env with the console logger for a one-shot subcommand.
func withEnv(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, e *env) error) error {
	cfg, err := loadConfig(cmd, *flags)
	if err != nil {
		return err
	}
	e, err := openEnv(cfg, config.SinkConsole)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
	defer cancel()
	return fn(ctx, e)
}

func runTUI(cmd *cobra.Command, flags globalFlags, metricsAddr string) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}
	e, err := openEnv(cfg, config.SinkFile)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.start(cmd.Context()); err != nil {
		return err
	}

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.log.Error().Err(err).Str("addr", metricsAddr).Msg("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	app := tui.NewApp(e.sync, tui.Options{Timers: e.guest, Logger: e.log})
	defer app.Close()

	e.log.Info().Str("mode", cfg.Mode().String()).Str("db", cfg.DBPath).Msg("blockr started")
	if _, err := tea.NewProgram(app, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}

func newFlushCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Replay changes saved while offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				if err := e.start(ctx); err != nil {
					return err
				}
				r, err := e.sync.FlushPending(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "flushed %d, failed %d, rejected %d, deferred %d, remaining %d\n",
					r.Flushed, r.Failed, r.Dropped, r.Deferred, r.Remaining)
				if r.Failed > 0 {
					return fmt.Errorf("%d operations still failing", r.Failed)
				}
				return nil
			})
		},
	}
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show owner, data freshness and pending changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				if err := e.start(ctx); err != nil {
					return err
				}
				res, loadErr := e.sync.Load(ctx)
				writeStatus(cmd.OutOrStdout(), e.sync.Status(), res, loadErr)
				return nil
			})
		},
	}
}

func writeStatus(w io.Writer, st syncer.Status, res syncer.LoadResult, loadErr error) {
	lastSync := "never"
	if !st.LastSync.IsZero() {
		lastSync = st.LastSync.Local().Format("2006-01-02 15:04:05")
	}
	fmt.Fprintf(w, "mode:       %s\n", st.Mode)
	fmt.Fprintf(w, "owner:      %s\n", st.Owner)
	fmt.Fprintf(w, "data:       %s\n", st.Data)
	fmt.Fprintf(w, "online:     %t\n", st.Online)
	fmt.Fprintf(w, "blocks:     %d\n", res.Blocks)
	fmt.Fprintf(w, "pending:    %d\n", st.Pending)
	fmt.Fprintf(w, "last sync:  %s\n", lastSync)
	if res.FromCache {
		fmt.Fprintf(w, "cache age:  %s\n", res.CacheAge.Round(time.Second))
	}
	if loadErr != nil {
		fmt.Fprintf(w, "error:      %v\n", loadErr)
	} else if res.Err != nil {
		fmt.Fprintf(w, "error:      %v\n", res.Err)
	}
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export time blocks as CSV or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if format != "csv" && format != "json" {
				return fmt.Errorf("unknown format %q, want csv or json", format)
			}
			if out == "" {
				out = fmt.Sprintf("blockr-export-%s.%s", time.Now().Format(model.DateLayout), format)
			}
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				if err := e.start(ctx); err != nil {
					return err
				}
				blocks := e.sync.AllBlocks()
				var err error
				if format == "csv" {
					err = export.ToCSV(blocks, out)
				} else {
					err = export.ToJSON(blocks, e.sync.Stats(), out)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d blocks to %s\n", len(blocks), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "csv", "csv or json")
	cmd.Flags().StringVar(&out, "out", "", "output file (default blockr-export-<date>.<format>)")
	return cmd
}

func newUpgradeCmd(flags *globalFlags) *cobra.Command {
	var userID, token string

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Move local records to a newly created account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *flags)
			if err != nil {
				return err
			}
			if !cfg.Online() {
				return errors.New("upgrade needs a remote service, set BLOCKR_API_URL or --api-url")
			}
			cfg.UserID, cfg.AccessToken = userID, token

			e, err := openEnv(cfg, config.SinkConsole)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			defer cancel()

			if err := e.sync.SetMode(ctx, model.Guest, ""); err != nil {
				return err
			}
			r, err := e.sync.AccountUpgraded(ctx, userID)
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d, skipped %d, failed %d\n", r.Migrated, r.Skipped, r.Failed)
			for _, merr := range r.Errors {
				e.log.Error().Err(merr).Msg("migration step failed")
			}
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "account user id")
	cmd.Flags().StringVar(&token, "token", "", "account access token")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}
