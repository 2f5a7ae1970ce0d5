package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/vamdc-lines/internal/api"
	"github.com/JakeFAU/vamdc-lines/internal/app"
	"github.com/JakeFAU/vamdc-lines/internal/catalog"
	"github.com/JakeFAU/vamdc-lines/internal/catalog/cache"
	"github.com/JakeFAU/vamdc-lines/internal/config"
	"github.com/JakeFAU/vamdc-lines/internal/logging"
	"github.com/JakeFAU/vamdc-lines/internal/metrics"
)

// shutdownTimeout bounds service teardown after a command returns.
const shutdownTimeout = 10 * time.Second

// Services is what commands need from the application. It lets tests inject
// fakes in place of the real container.
type Services interface {
	Logger() *zap.Logger
	Config() config.Config
	Gatherer() prometheus.Gatherer
	Metrics() *metrics.Collectors
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
	Refresh(ctx context.Context) (*catalog.Snapshot, error)
	CacheStatus() (cache.Status, error)
	ClearCache() error
	// Lines returns a line service whose payloads land in xsamsDir, or the
	// configured directory when xsamsDir is empty.
	Lines(xsamsDir string) (api.LineService, error)
	Close(ctx context.Context) error
}

// Factory builds Services from the loaded config.
type Factory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Services, error)

type appServices struct {
	*app.App
}

func newAppServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (Services, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return appServices{a}, nil
}

func (s appServices) Snapshot(ctx context.Context) (*catalog.Snapshot, error) {
	return s.Tables().Snapshot(ctx)
}

func (s appServices) Refresh(ctx context.Context) (*catalog.Snapshot, error) {
	return s.Tables().Refresh(ctx)
}

func (s appServices) CacheStatus() (cache.Status, error) {
	return s.Cache().Status()
}

func (s appServices) ClearCache() error {
	return s.Cache().Clear()
}

func (s appServices) Lines(xsamsDir string) (api.LineService, error) {
	return s.NewEngine(xsamsDir)
}

type rootOptions struct {
	cfgFile string
	verbose bool
}

// session carries the services built for one invocation.
type session struct {
	services Services
	logger   *zap.Logger
}

func (s *session) close() error {
	if s.services == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.services.Close(ctx)
	s.services = nil
	if s.logger != nil {
		_ = s.logger.Sync()
	}
	return err
}

type sessionKey struct{}

func servicesFrom(cmd *cobra.Command) (Services, error) {
	s, ok := cmd.Context().Value(sessionKey{}).(*session)
	if !ok || s.services == nil {
		return nil, errors.New("application services not initialized")
	}
	return s.services, nil
}

// newRootCmd creates the root command. Services are built in
// PersistentPreRunE and released by the caller of Execute.
func newRootCmd(factory Factory, sess *session) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "vamdc",
		Short: "Query spectroscopic line data across VAMDC nodes.",
		Long: `vamdc resolves species and nodes against the VAMDC species database,
probes every node for the size of its answer, splits truncated wavelength
windows until each fits, and merges the results into one line list.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			logOpts := logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level}
			if opts.verbose {
				logOpts = logging.Options{Development: true, Level: "debug"}
			}
			logger, err := logging.New(logOpts)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			sess.logger = logger

			services, err := factory(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			sess.services = services
			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey{}, sess))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging to stderr")

	cmd.AddCommand(newCountCmd(), newGetCmd(), newCacheCmd(), newServeCmd())
	return cmd
}

// run executes root and always releases the services it built.
func run(ctx context.Context, root *cobra.Command, sess *session) error {
	err := root.ExecuteContext(ctx)
	if cerr := sess.close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	sess := &session{}
	err := run(ctx, newRootCmd(newAppServices, sess), sess)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
