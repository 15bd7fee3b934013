package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"merakihec/internal/config"
	"merakihec/internal/engine"
	"merakihec/internal/fetcher"
	"merakihec/internal/logging"
	"merakihec/internal/meraki"
	"merakihec/internal/metrics"
	"merakihec/internal/output"
)

// loadConfig builds the effective config: defaults, then the file, then
// environment secrets, then flags the user set.
func loadConfig(cmd *cobra.Command, o *overrides) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	o.apply(cmd.Flags(), cfg)
	cfg.Runtime.Verbose = verbose

	key, _, err := meraki.ResolveAPIKey(cfg.Meraki.APIKey)
	if err != nil {
		return nil, err
	}
	cfg.Meraki.APIKey = key
	return cfg, nil
}

// session is everything one command invocation wires together.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	console *output.Console
	metrics *metrics.Metrics
	aborter *engine.Aborter
	engine  *engine.Engine
	sinks   *output.Manager

	ctx     context.Context
	closers []func()
}

// exitFunc ends the process on the abort path. Tests replace it.
var exitFunc = os.Exit

// newSession wires logging, metrics, the abort path, the vendor client and
// executor, and the engine. withSink adds the collector (or --dry-run) sink.
func newSession(cmd *cobra.Command, cfg *config.Config, withSink bool) (*session, error) {
	s := &session{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	logger, logCloser, err := logging.New(logging.Options{
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Level:      cfg.Log.Level,
		Verbose:    cfg.Runtime.Verbose,
		Stderr:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	s.logger = logger
	s.closers = append(s.closers, func() { _ = logCloser.Close() })

	s.metrics, err = metrics.New()
	if err != nil {
		return nil, err
	}
	s.console = output.NewConsole(cmd.ErrOrStderr())

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(sigCtx)
	s.ctx = ctx
	s.closers = append(s.closers, cancel, stop)

	s.aborter = engine.NewAborter(logger, cancel,
		engine.WithExit(exitFunc),
		engine.WithReporter(s.console),
		engine.WithTerminalHook(s.recordRun),
	)

	client, err := meraki.NewClient(ctx, cfg.Meraki.APIKey,
		meraki.WithBaseURL(cfg.Meraki.BaseURL),
		meraki.WithAuthScheme(meraki.AuthScheme(cfg.Meraki.AuthScheme)),
		meraki.WithTimeout(cfg.Runtime.TimeoutDuration()),
		meraki.WithInsecureSkipVerify(cfg.Runtime.InsecureSkipVerify),
		meraki.WithRateLimit(cfg.Meraki.RatePerSecond, cfg.Meraki.RateBurst),
		meraki.WithVerbose(cfg.Runtime.Verbose, cmd.ErrOrStderr()),
	)
	if err != nil {
		return nil, err
	}

	budget, err := fetcher.NewErrorBudget(cfg.Runtime.ErrorLimit)
	if err != nil {
		return nil, err
	}
	policy, err := fetcher.NewRetryPolicy(cfg.Runtime.RetryBackoff)
	if err != nil {
		return nil, err
	}
	lo, hi := cfg.Runtime.Jitter()
	execOpts := []fetcher.ExecutorOption{
		fetcher.WithJitter(fetcher.Jitter{Min: lo, Max: hi}),
		fetcher.WithLogger(logger),
		fetcher.WithObserver(s.metrics),
		fetcher.WithBudgetExhausted(s.aborter.Abort),
	}
	vendorOpts := append([]fetcher.ExecutorOption(nil), execOpts...)
	if client.Limiter != nil {
		vendorOpts = append(vendorOpts, fetcher.WithRateLimiter(client.Limiter))
	}
	exec, err := fetcher.NewExecutor(client.HTTP, budget, policy, vendorOpts...)
	if err != nil {
		return nil, err
	}

	s.sinks = output.NewManager()
	if withSink {
		if err := s.addSink(cmd.OutOrStdout(), budget, policy, execOpts); err != nil {
			return nil, err
		}
	}

	engOpts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	s.engine, err = engine.New(engine.Deps{
		Logger:    logger,
		Exec:      exec,
		Validator: fetcher.NewValidator(logger),
		API:       client,
		Sink:      s.sinks,
		Metrics:   s.metrics,
		Aborter:   s.aborter,
		Reporter:  s.console,
		SessionID: uuid.NewString(),
	}, engOpts)
	if err != nil {
		return nil, err
	}

	ok = true
	return s, nil
}

// addSink wires the collector sink. The HEC executor shares the vendor error
// budget, so a failing collector also ends the run.
func (s *session) addSink(stdout io.Writer, budget *fetcher.ErrorBudget, policy fetcher.RetryPolicy, execOpts []fetcher.ExecutorOption) error {
	if s.cfg.HEC.DryRun {
		emit, err := output.NewEmitSink(stdout)
		if err != nil {
			return err
		}
		return s.sinks.AddSink(emit)
	}

	endpoint, err := s.cfg.HEC.Endpoint()
	if err != nil {
		return err
	}
	hecClient := output.NewHECClient(s.cfg.HEC.Token, s.cfg.Runtime.TimeoutDuration(), s.cfg.Runtime.InsecureSkipVerify)
	hecExec, err := fetcher.NewExecutor(hecClient, budget, policy, execOpts...)
	if err != nil {
		return err
	}
	hec, err := output.NewHECSink(hecExec, endpoint,
		output.WithGzip(s.cfg.HEC.Gzip),
		output.WithHECLogger(s.logger),
	)
	if err != nil {
		return err
	}
	return s.sinks.AddSink(hec)
}

func (s *session) recordRun(success bool, elapsed time.Duration) {
	s.metrics.ObserveRun(success, elapsed, time.Now())
	if err := s.metrics.WriteTextfile(s.cfg.Metrics.Textfile); err != nil {
		s.logger.Warn("Could not write metrics textfile.", "path", s.cfg.Metrics.Textfile, "error", err)
	}
}

// banner prints the operator preamble the way every long-running command does.
func (s *session) banner() {
	if s.cfg.Log.Path != "" {
		s.console.Printf("Log file at %s.", s.cfg.Log.Path)
	}
	s.console.Printf("Press ctrl-c to cancel at any time.")
	s.logger.Info("===START OF RUN===", "config", configPath, "org_id", s.cfg.Meraki.OrgID, "dry_run", s.cfg.HEC.DryRun)
}

func (s *session) Close() {
	if s.sinks != nil {
		if err := s.sinks.Close(); err != nil && s.logger != nil {
			s.logger.Warn("Closing sinks failed.", "error", err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
