package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/odvcencio/greenlight/pkg/a11y"
	"github.com/odvcencio/greenlight/pkg/artifact"
	"github.com/odvcencio/greenlight/pkg/browser"
	"github.com/odvcencio/greenlight/pkg/config"
	"github.com/odvcencio/greenlight/pkg/errors"
	"github.com/odvcencio/greenlight/pkg/lifecycle"
	"github.com/odvcencio/greenlight/pkg/logging"
	"github.com/odvcencio/greenlight/pkg/reliability"
	"github.com/odvcencio/greenlight/pkg/report"
	"github.com/odvcencio/greenlight/pkg/scenario"
	"github.com/odvcencio/greenlight/pkg/storage"
)

const readyStateJS = `() => document.readyState`

// scanOptions are the resolved scan flags.
type scanOptions struct {
	strict    bool
	whitelist string
	parallel  int
	rate      float64
	keyboard  bool
	landmarks bool
	urls      []string
}

func parseScanOptions(cfg *config.Config, args []string) (*scanOptions, error) {
	opts := &scanOptions{}
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.strict, "strict", cfg.A11y.StrictMode, "fail units with blocking accessibility violations")
	fs.StringVar(&opts.whitelist, "whitelist", cfg.A11y.WhitelistPath, "YAML or JSON whitelist of accepted rules per scope")
	fs.IntVar(&opts.parallel, "parallel", 1, "number of pages scanned concurrently")
	fs.Float64Var(&opts.rate, "rate", 0, "maximum page loads per second (0 = unlimited)")
	fs.BoolVar(&opts.keyboard, "keyboard", false, "also check that Tab moves focus")
	fs.BoolVar(&opts.landmarks, "landmarks", false, "also report ARIA landmarks")
	if err := fs.Parse(args); err != nil {
		return nil, withExitCode(err, exitUsage)
	}
	opts.urls = fs.Args()
	if len(opts.urls) == 0 {
		return nil, withExitCode(fmt.Errorf("usage: greenlight scan [flags] URL..."), exitUsage)
	}
	if opts.parallel < 1 {
		return nil, withExitCode(fmt.Errorf("-parallel must be >= 1, got %d", opts.parallel), exitUsage)
	}
	if opts.rate < 0 {
		return nil, withExitCode(fmt.Errorf("-rate must be >= 0, got %g", opts.rate), exitUsage)
	}
	return opts, nil
}

func runScanCommand(args []string) error {
	cfg, err := loadConfigFn(globals.configPath)
	if err != nil {
		return err
	}
	opts, err := parseScanOptions(cfg, args)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	rt, err := newRuntime(ctx, cfg, runtimeOptions{command: "scan", ledger: true, runLog: true})
	if err != nil {
		return err
	}
	defer rt.Close()
	for _, warning := range cfg.ValidationWarnings() {
		rt.console.Warn(warning)
	}

	summary, err := runScan(ctx, rt, opts)
	printSummary(stdout, rt.runID, summary)
	if err != nil {
		return err
	}
	if !summary.OK() {
		return withExitCode(fmt.Errorf("%d of %d pages failed", summary.Failed, summary.Total), exitFailure)
	}
	return nil
}

// runScan drives one suite with one unit per URL.
func runScan(ctx context.Context, rt *runtime, opts *scanOptions) (report.Summary, error) {
	cfg := rt.cfg

	whitelist := a11y.NewWhitelist()
	if strings.TrimSpace(opts.whitelist) != "" {
		wl, err := a11y.LoadWhitelist(config.ResolvePath(opts.whitelist))
		if err != nil {
			return report.Summary{}, withExitCode(err, exitUsage)
		}
		whitelist = wl
	}

	manager, err := rt.newManager()
	if err != nil {
		return report.Summary{}, err
	}
	capturer := artifact.NewCapturer(rt.layout,
		artifact.WithLogger(rt.logger),
		artifact.WithHub(rt.hub),
		artifact.WithFullPage(true),
	)
	checker := a11y.NewChecker(
		a11y.NewScanner(browser.ScriptTag{URL: cfg.A11y.AxeScriptURL}, cfg.A11y.Tags),
		a11y.CheckerOptions{
			Whitelist: whitelist,
			Strict:    opts.strict,
			Layout:    rt.layout,
			Logger:    rt.logger,
			Hub:       rt.hub,
		},
	)

	collector := report.NewCollector()
	sinks := report.Multi{collector}
	if rt.ledger != nil {
		sinks = append(sinks, rt.ledger)
	}
	orch := lifecycle.New(manager, scenario.NewStore(), capturer, lifecycle.Options{
		RunID:   rt.runID,
		Launch:  cfg.LaunchOptions(),
		Session: cfg.SessionOptions(),
		Video:   lifecycle.VideoPolicy{Record: cfg.Video.Record, Always: cfg.Video.RecordAlways},
		Logger:  rt.logger,
		Hub:     rt.hub,
		Sink:    sinks,
	})

	started := time.Now()
	if rt.ledger != nil {
		if err := rt.ledger.CreateRun(ctx, storage.Run{ID: rt.runID, Engine: cfg.Browser.Engine, StartedAt: started}); err != nil {
			return report.Summary{}, err
		}
	}
	if err := orch.SuiteStart(ctx); err != nil {
		rt.finishRun(storage.RunAborted)
		return report.Summary{}, err
	}

	page := pageScanner{
		checker:   checker,
		retry:     navigationRetry(cfg, rt.logger),
		wait:      cfg.WaitOptions(),
		keyboard:  opts.keyboard,
		landmarks: opts.landmarks,
		logger:    rt.logger,
	}

	limit := rate.Inf
	if opts.rate > 0 {
		limit = rate.Limit(opts.rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.parallel)
	for _, target := range opts.urls {
		target := target
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return errors.Interrupted(err, "waiting to load "+target)
			}
			_, err := orch.RunUnit(gctx, unitName(target), func(uctx context.Context) error {
				return page.scan(uctx, target)
			})
			// A failed page is recorded by the orchestrator. Only a cancelled
			// run stops the group.
			if errors.IsInterrupted(err) {
				return err
			}
			if gctx.Err() != nil {
				return errors.Interrupted(gctx.Err(), "scanning "+target)
			}
			return nil
		})
	}
	groupErr := g.Wait()

	endErr := orch.SuiteEnd(context.WithoutCancel(ctx))
	summary := collector.Summary()

	status := ""
	if groupErr != nil || endErr != nil {
		status = storage.RunAborted
	}
	rt.finishRun(status)

	if groupErr != nil {
		return summary, groupErr
	}
	return summary, endErr
}

func (rt *runtime) finishRun(status string) {
	if rt.ledger == nil {
		return
	}
	if err := rt.ledger.FinishRun(context.Background(), rt.runID, time.Now(), status); err != nil {
		rt.logger.Warn("failed to finish run in ledger", slog.String("error", err.Error()))
	}
}

func navigationRetry(cfg *config.Config, logger *logging.Logger) reliability.RetryPolicy {
	policy := cfg.RetryPolicy()
	policy.Retryable = browser.IsRetryableError
	policy.Logger = logger
	return policy
}

// pageScanner is the body of one scan unit.
type pageScanner struct {
	checker   *a11y.Checker
	retry     reliability.RetryPolicy
	wait      reliability.WaitOptions
	keyboard  bool
	landmarks bool
	logger    *logging.Logger
}

func (p pageScanner) scan(ctx context.Context, target string) error {
	sess, ok := scenario.Session(ctx)
	if !ok {
		return errors.New(errors.ErrCodeInternal, "unit has no browser session")
	}
	logger := p.logger
	if id, ok := scenario.UnitID(ctx); ok {
		logger = logger.WithUnit(id, unitName(target))
	}

	if _, err := p.retry.Do(ctx, "navigate to "+target, func(ctx context.Context) error {
		return sess.Navigate(ctx, target)
	}); err != nil {
		return err
	}

	wait := p.wait
	wait.Logger = logger
	if err := reliability.WaitFor(ctx, "document ready on "+target, func(ctx context.Context) (bool, error) {
		state, err := sess.Evaluate(ctx, readyStateJS, nil)
		if err != nil {
			return false, err
		}
		s, _ := state.(string)
		return s == "complete", nil
	}, wait); err != nil {
		return err
	}

	scope := unitName(target)
	if _, err := p.checker.Check(ctx, sess, scope); err != nil {
		return err
	}

	if p.keyboard {
		focused, err := a11y.CheckKeyboardNavigation(ctx, sess, scope, logger)
		if err != nil {
			return err
		}
		if focused == "" {
			return errors.Assertionf("no element on %s receives focus from Tab", target)
		}
	}
	if p.landmarks {
		marks, err := a11y.ValidateLandmarks(ctx, sess, scope, logger)
		if err != nil {
			return err
		}
		logger.Info("landmarks",
			slog.Bool("main", marks.Main),
			slog.Bool("navigation", marks.Navigation),
			slog.Bool("contentinfo", marks.ContentInfo),
		)
	}
	return nil
}

// unitName turns a URL into a readable unit and scope name.
func unitName(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return u.Host
	}
	return u.Host + "/" + path
}
