package campaign

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/google/uuid"

	xerrors "SwapRunner/internal/errors"
	"SwapRunner/internal/events"
)

// Orchestrator runs one plan over a list of accounts, strictly one after the
// other. A single account is just a list of one.
type Orchestrator struct {
	runner *Runner
}

// NewOrchestrator wraps runner.
func NewOrchestrator(runner *Runner) *Orchestrator {
	return &Orchestrator{runner: runner}
}

// Run validates plan and executes it for every account. Cancellation ends
// the campaign early without an error; accounts that never started are
// reported fully failed and Result.Canceled is set.
func (o *Orchestrator) Run(ctx context.Context, accounts []Account, plan Plan) (Result, error) {
	r := o.runner
	if err := plan.Validate(r.settings); err != nil {
		return Result{}, err
	}
	if len(accounts) == 0 {
		return Result{}, xerrors.New(xerrors.CodeInvalidArgument, "no accounts to run")
	}

	res := Result{CampaignID: uuid.NewString()}
	log := r.logger.With(slog.String("campaign_id", res.CampaignID))
	log.Info("campaign started",
		slog.Int("accounts", len(accounts)),
		slog.Int("transactions_per_account", plan.Count),
		slog.String("target", plan.Target),
		slog.Bool("proxies", plan.UseProxies),
	)
	r.emit(ctx, events.New(events.KindCampaign, res.CampaignID, "started"))

	for i, acct := range accounts {
		if ctx.Err() != nil {
			res.Canceled = true
			res.add(AccountResult{
				Account: acct.Label(),
				Address: acct.Address(),
				Failed:  plan.Count,
				Err:     xerrors.Wrap(xerrors.CodeCanceled, ctx.Err(), "campaign canceled"),
			})
			continue
		}
		log.Info("processing account",
			slog.Int("index", i+1),
			slog.Int("of", len(accounts)),
			slog.String("account", acct.Label()),
			slog.String("address", acct.Address().Hex()),
		)
		res.add(r.RunAccount(ctx, res.CampaignID, acct, plan))

		if i < len(accounts)-1 && ctx.Err() == nil {
			if err := r.pause(ctx, r.settings.Pacing.BetweenAccounts, "next account", log); err != nil {
				log.Warn("campaign interrupted between accounts", slog.Any("error", err))
			}
		}
	}
	if ctx.Err() != nil {
		res.Canceled = true
	}

	ev := events.New(events.KindCampaign, res.CampaignID, "finished")
	if res.Canceled {
		ev.Status = "canceled"
	}
	ev.Success = res.Success
	ev.Failed = res.Failed
	r.emit(ctx, ev)
	log.Info("campaign finished",
		slog.Int("success", res.Success),
		slog.Int("failed", res.Failed),
		slog.Bool("canceled", res.Canceled),
	)
	return res, nil
}

// Required is the balance each account needs for plan.
func (o *Orchestrator) Required(plan Plan) *big.Int {
	return o.runner.Required(plan)
}
