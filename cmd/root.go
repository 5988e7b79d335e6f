// Package cmd defines the gazette-watch command line.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-watch/internal/app"
	"github.com/JakeFAU/gazette-watch/internal/config"
	"github.com/JakeFAU/gazette-watch/internal/gazette"
	"github.com/JakeFAU/gazette-watch/internal/logging"
	"github.com/JakeFAU/gazette-watch/internal/pipeline"
)

// Runner is the pipeline surface the commands drive.
type Runner interface {
	RunForDate(ctx context.Context, date civil.Date) (gazette.RunSummary, error)
	ReplayForWatcher(ctx context.Context, watcherID int64, date civil.Date, opts pipeline.ReplayOptions) (gazette.Report, error)
	Today() civil.Date
}

// services is what a command needs from the wired application.
type services struct {
	cfg      config.Config
	logger   *zap.Logger
	runner   Runner
	handler  http.Handler
	location *time.Location
	close    func(ctx context.Context) error
}

type servicesFactory func(ctx context.Context, cfgPath string) (*services, error)

type servicesKeyType struct{}

var servicesKey servicesKeyType

// buildServices loads config and wires the real application.
func buildServices(ctx context.Context, cfgPath string) (*services, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return &services{
		cfg:      cfg,
		logger:   logger,
		runner:   a.Pipeline,
		handler:  a.Server.Handler(),
		location: a.Clock.Location(),
		close: func(ctx context.Context) error {
			err := a.Close(ctx)
			_ = logger.Sync()
			return err
		},
	}, nil
}

// newRootCmd creates the root command. factory builds the services a
// subcommand runs against.
func newRootCmd(factory servicesFactory) *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "gazette-watch",
		Short: "Watches the Minas Gerais official gazette for search terms.",
		Long: `gazette-watch downloads each day's edition of the Minas Gerais official
gazette, indexes it page by page, matches every active watcher's search
terms and mails the highlights to its recipients.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			svc, err := factory(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), servicesKey, svc))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newServeCmd(), newRunCmd(), newReplayCmd(), newBackfillCmd())
	return cmd
}

// withServices hands the built services to fn and releases them however fn
// returns.
func withServices(fn func(cmd *cobra.Command, args []string, svc *services) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		svc, err := resolveServices(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if closeErr := svc.close(ctx); closeErr != nil {
				svc.logger.Warn("shutdown incomplete", zap.Error(closeErr))
				err = errors.Join(err, closeErr)
			}
		}()
		return fn(cmd, args, svc)
	}
}

func resolveServices(ctx context.Context) (*services, error) {
	svc, ok := ctx.Value(servicesKey).(*services)
	if !ok || svc == nil {
		return nil, errors.New("application services not initialized")
	}
	return svc, nil
}

// parseDateFlag returns today when raw is empty.
func parseDateFlag(raw string, runner Runner) (civil.Date, error) {
	if raw == "" {
		return runner.Today(), nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", raw)
	}
	return d, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd(buildServices).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
