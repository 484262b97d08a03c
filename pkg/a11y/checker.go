package a11y

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/odvcencio/greenlight/pkg/artifact"
	"github.com/odvcencio/greenlight/pkg/browser"
	"github.com/odvcencio/greenlight/pkg/errors"
	"github.com/odvcencio/greenlight/pkg/logging"
	"github.com/odvcencio/greenlight/pkg/telemetry"
)

// Report summarizes one accessibility check. It is persisted as JSON under
// the artifact layout's a11y directory.
type Report struct {
	Scope             string    `json:"scope"`
	URL               string    `json:"url,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	ViolationCount    int       `json:"violationCount"`
	PassCount         int       `json:"passCount"`
	IncompleteCount   int       `json:"incompleteCount"`
	InapplicableCount int       `json:"inapplicableCount"`
	Blocking          []string  `json:"blocking"`
	Whitelisted       []string  `json:"whitelisted,omitempty"`
	UnknownWhitelist  []string  `json:"unknownWhitelist,omitempty"`
	Strict            bool      `json:"strict"`
	Passed            bool      `json:"passed"`
	Path              string    `json:"-"`
}

// CheckerOptions configures a Checker.
type CheckerOptions struct {
	Whitelist *Whitelist
	// Strict turns blocking violations into assertion failures.
	Strict bool
	// Layout receives JSON reports; a zero Layout skips persistence.
	Layout artifact.Layout
	Logger *logging.Logger
	Hub    *telemetry.Hub
	Now    func() time.Time
}

// Checker scans pages and applies the blocking policy.
type Checker struct {
	scanner   *Scanner
	whitelist *Whitelist
	strict    bool
	layout    artifact.Layout
	logger    *logging.Logger
	hub       *telemetry.Hub
	now       func() time.Time
	warned    onceSet
}

// NewChecker creates a checker around scanner.
func NewChecker(scanner *Scanner, opts CheckerOptions) *Checker {
	if opts.Whitelist == nil {
		opts.Whitelist = NewWhitelist()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Checker{
		scanner:   scanner,
		whitelist: opts.Whitelist,
		strict:    opts.Strict,
		layout:    opts.Layout,
		logger:    logging.OrNop(opts.Logger),
		hub:       opts.Hub,
		now:       opts.Now,
	}
}

// Check scans the current page of sess and judges the results for scope.
// A scan failure is returned as-is; a failed verdict in strict mode is an
// ASSERTION error alongside the report.
func (c *Checker) Check(ctx context.Context, sess browser.Session, scope string) (*Report, error) {
	c.logger.Info("starting accessibility scan", slog.String("scope", scope))
	results, err := c.scanner.Scan(ctx, sess)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInfrastructure, "accessibility scan failed").
			WithContext("scope", scope)
	}
	return c.Judge(scope, results)
}

// Judge applies the whitelist and strict policy to already collected results.
func (c *Checker) Judge(scope string, results *Results) (*Report, error) {
	if results == nil {
		results = &Results{}
	}
	verdict := Evaluate(results.Violations, scope, c.whitelist, c.strict)
	logger := c.logger.With(slog.String("scope", scope))
	logger.Info("accessibility scan finished",
		slog.Int("violations", len(results.Violations)),
		slog.Int("passes", len(results.Passes)),
	)

	for _, v := range results.Violations {
		logger.Debug("violation", slog.String("rule", v.RuleID), slog.String("impact", string(v.Impact)))
	}
	for _, v := range verdict.Whitelisted {
		logger.Warn("whitelisted violation", slog.String("rule", v.RuleID), slog.String("impact", string(v.Impact)))
	}
	for _, v := range verdict.Blocking {
		for _, n := range v.Nodes {
			logger.Warn("blocking violation", slog.String("rule", v.RuleID), slog.String("html", n.HTML))
		}
	}

	unknown := UnknownRules(results, scope, c.whitelist)
	for _, id := range unknown {
		if c.warned.first(scope, id) {
			logger.Warn("whitelist names a rule the scan never evaluated", slog.String("rule", id))
		}
	}

	report := &Report{
		Scope:             scope,
		URL:               results.URL,
		Timestamp:         c.now(),
		ViolationCount:    len(results.Violations),
		PassCount:         len(results.Passes),
		IncompleteCount:   len(results.Incomplete),
		InapplicableCount: len(results.Inapplicable),
		Blocking:          verdict.BlockingIDs(),
		UnknownWhitelist:  unknown,
		Strict:            verdict.Strict,
		Passed:            verdict.Passed,
	}
	for _, v := range verdict.Whitelisted {
		report.Whitelisted = append(report.Whitelisted, v.RuleID)
	}
	c.persist(report)

	c.hub.Publish(telemetry.Event{
		Type: telemetry.EventA11yChecked,
		Data: map[string]any{
			"scope":    scope,
			"blocking": len(report.Blocking),
			"passed":   report.Passed,
			"path":     report.Path,
		},
	})

	if !verdict.Passed {
		err := errors.Assertionf("accessibility blocking issues found on %s (%d critical/serious violations)", scope, len(verdict.Blocking)).
			WithContext("rules", report.Blocking)
		logger.Error(err.Message)
		return report, err
	}
	if len(verdict.Blocking) > 0 {
		logger.Warn("accessibility violations detected but strict mode is disabled; continuing",
			slog.Any("rules", report.Blocking))
	}
	return report, nil
}

func (c *Checker) persist(report *Report) {
	if c.layout.Root == "" {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		c.logger.Warn("failed to encode accessibility report", slog.Any("error", err))
		return
	}
	path, err := c.layout.Write(artifact.KindA11yReport, "a11y-report-"+report.Scope, report.Timestamp, data)
	if err != nil {
		c.logger.Warn("failed to write accessibility report", slog.Any("error", err))
		return
	}
	report.Path = path
	c.logger.ArtifactCaptured(string(artifact.KindA11yReport), path)
}
