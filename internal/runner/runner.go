// Package runner drives the unattended validation pass: page pending
// proposals, gate each one, and apply the accepted ones strictly one at a
// time so a single failure cannot corrupt the run's aggregate statistics.
package runner

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sportgrid/catalog-cli/internal/apply"
	"github.com/sportgrid/catalog-cli/internal/gate"
	"github.com/sportgrid/catalog-cli/internal/model"
	"github.com/sportgrid/catalog-cli/internal/resilience"
	"github.com/sportgrid/catalog-cli/internal/store"
)

// DefaultIdentity is the runner identity recorded against cumulative stats
// for the unattended validator.
const DefaultIdentity = "validator.auto"

// Applier applies one proposal. Satisfied by *apply.Executor.
type Applier interface {
	Apply(ctx context.Context, p *model.Proposal) (*apply.Result, error)
}

// Options tunes a validation run.
type Options struct {
	// PageSize bounds how many pending proposals one run processes.
	PageSize int

	// RatePerSec paces proposal processing. Zero disables pacing.
	RatePerSec float64

	// Identity keys the cumulative run statistics. Defaults to
	// DefaultIdentity.
	Identity string

	// DryRun skips the stats increment; the applier is expected to be in
	// dry-run mode too.
	DryRun bool
}

// Runner is the unattended batch validator.
type Runner struct {
	store   store.Store
	applier Applier
	policy  gate.Policy
	opts    Options
	limiter *rate.Limiter
}

// New builds a Runner.
func New(st store.Store, applier Applier, pol gate.Policy, opts Options) *Runner {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.Identity == "" {
		opts.Identity = DefaultIdentity
	}

	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}

	return &Runner{store: st, applier: applier, policy: pol, opts: opts, limiter: limiter}
}

// Run processes one page of pending proposals and returns the run report.
// A proposal that fails mid-application is counted and skipped; only listing
// failures and context cancellation abort the run.
func (r *Runner) Run(ctx context.Context) (model.RunReport, error) {
	var report model.RunReport

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("list pending proposals")

	page, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]model.Proposal, error) {
		return r.store.ListProposals(ctx, store.ProposalFilter{
			Status: model.ProposalStatusPending,
			Limit:  r.opts.PageSize,
		})
	})
	if err != nil {
		return report, eris.Wrap(err, "runner: list pending proposals")
	}

	zap.L().Info("validation run starting",
		zap.String("runner", r.opts.Identity),
		zap.Int("pending", len(page)),
		zap.Bool("dry_run", r.opts.DryRun))

	for i := range page {
		p := &page[i]

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return report, eris.Wrap(err, "runner: rate limit wait")
			}
		}
		report.Analyzed++

		decision := gate.Evaluate(ctx, p, r.store, r.policy)
		if !decision.Accepted {
			report.Ignored++
			report.AddExclusion(decision.Reason)
			zap.L().Info("proposal excluded",
				zap.String("proposal_id", p.ID),
				zap.String("reason", string(decision.Reason)),
				zap.String("detail", decision.Detail))
			continue
		}

		if _, err := r.applier.Apply(ctx, p); err != nil {
			report.Failures++
			zap.L().Error("proposal application failed",
				zap.String("proposal_id", p.ID),
				zap.Error(err))
			continue
		}
		report.Validated++
	}

	if !r.opts.DryRun {
		if err := r.store.IncrementRunStats(ctx, r.opts.Identity, report); err != nil {
			return report, eris.Wrap(err, "runner: persist run stats")
		}
	}

	zap.L().Info("validation run complete",
		zap.String("runner", r.opts.Identity),
		zap.Int("analyzed", report.Analyzed),
		zap.Int("validated", report.Validated),
		zap.Int("ignored", report.Ignored),
		zap.Int("failures", report.Failures))

	return report, nil
}
