// Package harness orchestrates a conformance run: suite collection,
// capability-aware scheduling, execution through the engine, and outcome
// reporting.
package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MongooseMoo/moo-conformance-tests/internal/capability"
	"github.com/MongooseMoo/moo-conformance-tests/internal/engine"
	"github.com/MongooseMoo/moo-conformance-tests/internal/suite"
	"github.com/MongooseMoo/moo-conformance-tests/pkg/logging"
)

// Options tune a run.
type Options struct {
	// FailFast stops the run after the first failure or error.
	FailFast bool
}

// Harness drives one conformance run over a single server session.
type Harness struct {
	runner   *engine.Runner
	registry *capability.Registry
	reporter Reporter
	opts     Options
}

func New(transport engine.Transport, reporter Reporter, opts Options) *Harness {
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Harness{
		runner:   engine.New(transport),
		registry: capability.NewRegistry(),
		reporter: reporter,
		opts:     opts,
	}
}

// Registry exposes capability states for status reporting.
func (h *Harness) Registry() *capability.Registry {
	return h.registry
}

type entry struct {
	s    *suite.Suite
	t    *suite.Test
	role capability.Role
}

// Run executes every test in suites that passes the filter. Providers run
// first so the capabilities they verify are settled before consumers are
// gated on them. The returned report is complete even when ctx was
// cancelled mid-run; the error then is the context's.
func (h *Harness) Run(ctx context.Context, suites []*suite.Suite, filter *suite.Filter) (*RunReport, error) {
	entries, suiteCount, err := h.collect(suites, filter)
	if err != nil {
		return nil, err
	}

	report := newReport()
	report.Suites = suiteCount
	h.reporter.RunStarted(len(entries))

	var (
		setupSuites []*suite.Suite
		setupSeen   = make(map[string]bool)
		lastSuite   *suite.Suite
		runErr      error
	)

	for _, e := range entries {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		if e.s != lastSuite {
			h.reporter.SuiteStarted(e.s)
			lastSuite = e.s
		}

		result := TestResult{
			ID:    e.s.TestID(e.t),
			Suite: e.s.Name,
			Test:  e.t.Name,
		}

		if reason, skipped := h.skipReason(e); skipped {
			result.Status = StatusSkipped
			result.SkipReason = reason
			report.record(result)
			h.reporter.TestFinished(result)
			continue
		}

		if err := h.runner.EnsureSuiteSetup(e.s); err != nil {
			result.Status = StatusError
			result.Message = err.Error()
			h.recordOutcome(report, e, result)
			if h.opts.FailFast {
				break
			}
			continue
		}
		if !setupSeen[e.s.Name] {
			setupSeen[e.s.Name] = true
			setupSuites = append(setupSuites, e.s)
		}

		start := time.Now()
		err := h.runner.Run(e.s, e.t)
		result.Duration = time.Since(start)

		switch {
		case err == nil:
			result.Status = StatusPassed
		case isAssertion(err):
			result.Status = StatusFailed
			result.Message = err.Error()
		default:
			result.Status = StatusError
			result.Message = err.Error()
		}

		h.recordOutcome(report, e, result)
		if h.opts.FailFast && result.Status != StatusPassed {
			break
		}
	}

	for _, s := range setupSuites {
		h.runner.SuiteTeardown(s)
	}

	report.finish()
	h.reporter.RunFinished(report)
	return report, runErr
}

// collect flattens suites into ordered entries and registers capability
// providers. Suites flagged skip are dropped here, before anything runs.
func (h *Harness) collect(suites []*suite.Suite, filter *suite.Filter) ([]entry, int, error) {
	var entries []entry
	seen := make(map[string]bool)

	for _, s := range suites {
		if s.Skip.Active() {
			logging.Info("Harness", "Skipping suite '%s': %s", s.Name, skipText(s.Skip))
			continue
		}
		for _, t := range s.Tests {
			match, err := filter.Matches(s, t)
			if err != nil {
				return nil, 0, fmt.Errorf("filtering %s: %w", s.TestID(t), err)
			}
			if !match {
				continue
			}
			provides := s.ProvidesFor(t)
			if provides != "" {
				h.registry.RegisterProvider(provides, s.TestID(t))
			}
			entries = append(entries, entry{
				s:    s,
				t:    t,
				role: capability.RoleOf(provides, s.AssumesFor(t)),
			})
			seen[s.Name] = true
		}
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		return int(a.role) - int(b.role)
	})
	return entries, len(seen), nil
}

// skipReason checks the static skip conditions in order: the test's own
// flag, its skip_if declaration, then the capability gate.
func (h *Harness) skipReason(e entry) (string, bool) {
	if e.t.Skip.Active() {
		return skipText(e.t.Skip), true
	}
	if e.t.SkipIf != "" {
		return describeSkipIf(e.t.SkipIf), true
	}
	if ok, reason := h.registry.CanRun(e.s.AssumesFor(e.t)); !ok {
		return reason, true
	}
	return "", false
}

// recordOutcome records the result and settles the provided capability.
// A provider that did not pass fails its capability; skips never reach
// here, so an unrun provider leaves the capability unverified.
func (h *Harness) recordOutcome(report *RunReport, e entry, result TestResult) {
	if provides := e.s.ProvidesFor(e.t); provides != "" {
		if result.Status == StatusPassed {
			h.registry.MarkPassed(provides, result.ID)
		} else {
			h.registry.MarkFailed(provides, result.ID)
		}
	}
	report.record(result)
	h.reporter.TestFinished(result)
}

func isAssertion(err error) bool {
	var ae *engine.AssertionError
	return errors.As(err, &ae)
}

func skipText(flag suite.SkipFlag) string {
	if reason := flag.Reason(); reason != "" {
		return reason
	}
	return "marked skip"
}

// describeSkipIf renders a skip_if condition as a reader-facing reason.
// Conditions are declarations about the target server, not probes; the
// harness reports them without evaluating anything.
func describeSkipIf(cond string) string {
	switch {
	case strings.HasPrefix(cond, "not feature."):
		return "Requires feature: " + strings.TrimPrefix(cond, "not feature.")
	case strings.HasPrefix(cond, "feature."):
		return "Incompatible with feature: " + strings.TrimPrefix(cond, "feature.")
	case strings.HasPrefix(cond, "missing builtin."):
		return "Requires builtin: " + strings.TrimPrefix(cond, "missing builtin.")
	default:
		return "Skip condition: " + cond
	}
}
