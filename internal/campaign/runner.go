package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "SwapRunner/internal/errors"
	"SwapRunner/internal/events"
	"SwapRunner/internal/executor"
	"SwapRunner/internal/httpclient"
	"SwapRunner/internal/jitter"
	"SwapRunner/internal/observability/alerting"
	"SwapRunner/internal/observability/metrics"
	"SwapRunner/internal/proxy"
	"SwapRunner/internal/retry"
	"SwapRunner/internal/swap"
	"SwapRunner/internal/units"
	"SwapRunner/pkg/logger"
)

// Account is a signing identity with a display label.
type Account interface {
	executor.Signer
	Label() string
}

// BalanceReader reads native balances.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// Submitter executes one swap transaction.
type Submitter interface {
	Execute(ctx context.Context, req executor.Request) (executor.Outcome, error)
}

// SwapAPI is the routing and tracking service.
type SwapAPI interface {
	Quote(ctx context.Context, caller *retry.Caller, req swap.QuoteRequest) (swap.ExecuteResponse, error)
	Swap(ctx context.Context, caller *retry.Caller, req swap.SwapRequest) (swap.ExecuteResponse, error)
	TrackSwap(ctx context.Context, caller *retry.Caller, req swap.TrackSwapRequest) error
	TrackEngagement(ctx context.Context, caller *retry.Caller, req swap.EngagementRequest) error
}

// Deps are the collaborators of a Runner. Ledger, Executor, API and Caller
// are required; the rest are optional.
type Deps struct {
	Ledger   BalanceReader
	Executor Submitter
	API      SwapAPI
	Caller   *retry.Caller
	Rand     *jitter.Source
	Sleep    jitter.SleepFunc
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Alerts   alerting.Dispatcher
	Logger   *slog.Logger
}

// Runner executes the plan of a single account.
type Runner struct {
	settings Settings
	ledger   BalanceReader
	exec     Submitter
	api      SwapAPI
	caller   *retry.Caller
	rnd      *jitter.Source
	sleep    jitter.SleepFunc
	events   events.Publisher
	metrics  *metrics.Metrics
	alerts   alerting.Dispatcher
	logger   *slog.Logger
	audit    *slog.Logger
}

// NewRunner validates deps and fills defaults.
func NewRunner(settings Settings, deps Deps) (*Runner, error) {
	if deps.Ledger == nil || deps.Executor == nil || deps.API == nil || deps.Caller == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "ledger, executor, api and caller are required")
	}
	r := &Runner{
		settings: settings.withDefaults(),
		ledger:   deps.Ledger,
		exec:     deps.Executor,
		api:      deps.API,
		caller:   deps.Caller,
		rnd:      deps.Rand,
		sleep:    deps.Sleep,
		events:   deps.Events,
		metrics:  deps.Metrics,
		alerts:   deps.Alerts,
		logger:   deps.Logger,
		audit:    logger.Audit(),
	}
	if r.rnd == nil {
		r.rnd = jitter.NewRandom()
	}
	if r.sleep == nil {
		r.sleep = jitter.Sleep
	}
	if r.logger == nil {
		r.logger = logger.Named("campaign")
	}
	return r, nil
}

// Settings returns the effective settings.
func (r *Runner) Settings() Settings { return r.settings }

// Required is the balance an account needs for plan: (amountIn + gasReserve) * count.
func (r *Runner) Required(plan Plan) *big.Int {
	per := new(big.Int).Add(plan.AmountIn, r.settings.GasReserve)
	return per.Mul(per, big.NewInt(int64(plan.Count)))
}

// RunAccount runs every transaction of plan for acct. It never returns an
// error: setup failures and panics become a fully failed result and the
// caller moves on to the next account.
func (r *Runner) RunAccount(ctx context.Context, campaignID string, acct Account, plan Plan) (res AccountResult) {
	res = AccountResult{Account: acct.Label(), Address: acct.Address()}
	log := r.logger.With(slog.String("campaign_id", campaignID), slog.String("account", acct.Label()))

	defer func() {
		if p := recover(); p != nil {
			err := xerrors.New(CodeAccountSetup, fmt.Sprintf("panic: %v", p))
			log.Error("account run panicked", slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
			res.Err = err
			r.alert(ctx, campaignID, acct.Label(), err)
		}
		res.Failed = plan.Count - res.Success
		r.finishAccount(ctx, campaignID, log, res)
	}()

	if err := r.checkBalance(ctx, acct, plan, log); err != nil {
		res.Err = err
		r.alert(ctx, campaignID, acct.Label(), err)
		return res
	}

	for seq := 1; seq <= plan.Count; seq++ {
		if ctx.Err() != nil {
			res.Err = xerrors.Wrap(xerrors.CodeCanceled, ctx.Err(), "campaign canceled")
			break
		}
		log.Info("starting transaction", slog.Int("tx", seq), slog.Int("of", plan.Count))
		att := r.runAttempt(ctx, campaignID, acct, plan, seq)
		res.Attempts = append(res.Attempts, att)
		if att.Status == StatusConfirmed {
			res.Success++
		}

		if wait := r.cooldown(att); wait > 0 {
			log.Warn("upstream refused requests, cooling down", slog.Duration("wait", wait))
			if err := r.sleep(ctx, wait); err != nil {
				res.Err = xerrors.Wrap(xerrors.CodeCanceled, err, "campaign canceled")
				break
			}
		}
		if seq < plan.Count {
			if err := r.pause(ctx, r.settings.Pacing.BetweenTransactions, "next transaction", log); err != nil {
				res.Err = xerrors.Wrap(xerrors.CodeCanceled, err, "campaign canceled")
				break
			}
		}
	}
	return res
}

func (r *Runner) checkBalance(ctx context.Context, acct Account, plan Plan, log *slog.Logger) error {
	balance, err := r.ledger.BalanceAt(ctx, acct.Address())
	if err != nil {
		return xerrors.Wrap(CodeAccountSetup, err, "read balance")
	}
	required := r.Required(plan)
	log.Info("balance checked",
		slog.String("balance_eth", units.FormatEther(balance)),
		slog.String("required_eth", units.FormatEther(required)),
	)
	if balance.Cmp(required) < 0 {
		return xerrors.New(CodeInsufficientBalance, "",
			xerrors.WithMetadata("balance", units.FormatEther(balance)),
			xerrors.WithMetadata("required", units.FormatEther(required)),
		)
	}
	return nil
}

func (r *Runner) runAttempt(ctx context.Context, campaignID string, acct Account, plan Plan, seq int) (att Attempt) {
	token := r.pickToken(plan.Target)
	cfg := r.settings.Tokens[token]
	att = Attempt{
		ID:       uuid.NewString(),
		Account:  acct.Label(),
		Address:  acct.Address(),
		Sequence: seq,
		Token:    token,
		AmountIn: new(big.Int).Set(plan.AmountIn),
		Status:   StatusPending,
	}
	log := r.logger.With(
		slog.String("campaign_id", campaignID),
		slog.String("account", acct.Label()),
		slog.Int("tx", seq),
		slog.String("token", token),
	)
	r.publish(ctx, campaignID, att)
	defer func() { r.finishAttempt(ctx, campaignID, att, log) }()

	caller := r.callerFor(ctx, plan, log)
	log.Info("swapping ETH",
		slog.String("amount_eth", units.FormatEther(plan.AmountIn)),
		slog.String("to", strings.ToUpper(cfg.Symbol)),
	)

	if err := r.pause(ctx, r.settings.Pacing.PreQuote, "quote", log); err != nil {
		att.fail(err)
		return att
	}
	quoteReq, err := swap.NewQuoteRequest(cfg, plan.AmountIn, acct.Address(), r.settings.Params)
	if err != nil {
		att.fail(err)
		return att
	}
	quoteResp, err := r.api.Quote(ctx, caller, quoteReq)
	if err != nil {
		att.fail(err)
		return att
	}
	if err := r.pause(ctx, r.settings.Pacing.PostQuote, "swap", log); err != nil {
		att.fail(err)
		return att
	}
	quote, err := swap.ParseQuote(quoteResp, cfg.DefaultAmountOut)
	if err != nil {
		att.skip(err)
		return att
	}
	att.AmountOut = quote.AmountOut
	log.Info("quote received", slog.String("amount_out", quote.AmountOut), slog.Bool("from_meta", quote.FromMeta))

	swapReq, err := swap.NewSwapRequest(quoteReq, quote, cfg)
	if err != nil {
		att.skip(err)
		return att
	}
	swapResp, err := r.api.Swap(ctx, caller, swapReq)
	if err != nil {
		att.fail(err)
		return att
	}
	data, err := swap.ExtractCalldata(swapResp, acct.Address())
	if err != nil {
		att.skip(err)
		return att
	}

	out, err := r.exec.Execute(ctx, executor.Request{
		Signer: acct,
		Value:  plan.AmountIn,
		Data:   data,
		OnStage: func(stage executor.Stage, o executor.Outcome) {
			if stage != executor.StageSent {
				return
			}
			att.Status = StatusSent
			att.TxHash = o.TxHash.Hex()
			log.Info("transaction sent", slog.String("tx_hash", att.TxHash), slog.Uint64("nonce", o.Nonce))
			r.publish(ctx, campaignID, att)
		},
	})
	if out.TxHash != (common.Hash{}) {
		att.TxHash = out.TxHash.Hex()
	}
	if err != nil {
		if xerrors.HasCode(err, executor.CodeSimulationFailed) {
			att.skip(err)
		} else {
			att.fail(err)
		}
		return att
	}

	att.Status = StatusConfirmed
	r.metrics.Confirmed(out.Latency)
	log.Info("swap confirmed",
		slog.String("explorer", r.settings.ExplorerURL+att.TxHash),
		slog.Uint64("gas_used", out.GasUsed),
		slog.Duration("latency", out.Latency),
	)
	att.TrackingErr = r.track(ctx, caller, cfg, acct.Address(), out.TxHash, plan.AmountIn, quote.AmountOut, log)
	return att
}

// track reports a confirmed swap to both services. Failures are recorded and
// logged; the attempt stays confirmed.
func (r *Runner) track(ctx context.Context, caller *retry.Caller, cfg swap.TokenConfig, wallet common.Address, hash common.Hash, amountIn *big.Int, amountOut string, log *slog.Logger) error {
	if err := r.pause(ctx, r.settings.Pacing.PreTracking, "tracking", log); err != nil {
		return err
	}
	var last error
	req, err := swap.NewTrackSwapRequest(cfg, r.settings.Params, hash, wallet, amountIn, amountOut)
	if err == nil {
		err = r.api.TrackSwap(ctx, caller, req)
	}
	if err != nil {
		last = err
		r.metrics.TrackingFailed("swap")
		log.Warn("swap tracking failed", slog.Any("error", err))
	}
	if ctx.Err() != nil {
		return last
	}
	if err := r.api.TrackEngagement(ctx, caller, swap.NewEngagementRequest(r.settings.Params, hash, wallet)); err != nil {
		last = err
		r.metrics.TrackingFailed("engagement")
		log.Warn("engagement tracking failed", slog.Any("error", err))
	}
	return last
}

func (r *Runner) pickToken(target string) string {
	target = strings.ToLower(strings.TrimSpace(target))
	if target != TargetRandom {
		return target
	}
	return r.settings.RandomTokens[r.rnd.IntN(len(r.settings.RandomTokens))]
}

// callerFor picks the transport policy of one transaction: direct when
// proxies are off, a pinned live proxy when one is found, else per-call
// random selection.
func (r *Runner) callerFor(ctx context.Context, plan Plan, log *slog.Logger) *retry.Caller {
	if !plan.UseProxies {
		return r.caller.Direct()
	}
	pool := r.caller.Pool()
	if !r.settings.StickyProxy || pool.Len() == 0 {
		return r.caller
	}
	ep, ok := pool.FindWorking(ctx, r.settings.ProbeURL, r.settings.ProbeTimeout, proxy.DefaultFindAttempts)
	if !ok {
		log.Warn("no live proxy found, falling back to random selection")
		return r.caller
	}
	log.Info("using proxy", slog.String("proxy", ep.String()))
	return r.caller.WithPreferredProxy(&ep)
}

// cooldown is the extra wait after an attempt whose calls ended on a refusal.
func (r *Runner) cooldown(att Attempt) time.Duration {
	for _, err := range []error{att.Err, att.TrackingErr} {
		switch httpclient.StatusCodeOf(err) {
		case http.StatusTooManyRequests:
			return r.settings.Pacing.RateLimitCooldown
		case http.StatusForbidden:
			return r.settings.Pacing.ForbiddenCooldown
		}
	}
	return 0
}

func (r *Runner) pause(ctx context.Context, window Range, before string, log *slog.Logger) error {
	d := r.rnd.Between(window.Min, window.Max)
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return xerrors.Wrap(xerrors.CodeCanceled, err, "canceled before "+before)
		}
		return nil
	}
	log.Debug("pausing", slog.Duration("wait", d), slog.String("before", before))
	if err := r.sleep(ctx, d); err != nil {
		return xerrors.Wrap(xerrors.CodeCanceled, err, "pause before "+before+" interrupted")
	}
	return nil
}

func (r *Runner) finishAttempt(ctx context.Context, campaignID string, att Attempt, log *slog.Logger) {
	r.metrics.AttemptFinished(att.Token, string(att.Status))
	attrs := []any{
		slog.String("campaign_id", campaignID),
		slog.String("attempt_id", att.ID),
		slog.String("account", att.Account),
		slog.Int("tx", att.Sequence),
		slog.String("token", att.Token),
		slog.String("amount_in", units.FormatEther(att.AmountIn)),
		slog.String("amount_out", att.AmountOut),
		slog.String("status", string(att.Status)),
		slog.String("tx_hash", att.TxHash),
	}
	if att.Err != nil {
		attrs = append(attrs, slog.String("code", string(xerrors.CodeOf(att.Err))), slog.Any("error", att.Err))
	}
	r.audit.Info("attempt finished", attrs...)

	switch att.Status {
	case StatusSkipped:
		log.Warn("transaction skipped", slog.Any("error", att.Err))
	case StatusFailed:
		log.Error("transaction failed", slog.Any("error", att.Err))
	}
	r.publish(ctx, campaignID, att)
	if att.Err != nil && !xerrors.HasCode(att.Err, xerrors.CodeCanceled) {
		r.alert(ctx, campaignID, att.Account, att.Err)
	}
}

func (r *Runner) finishAccount(ctx context.Context, campaignID string, log *slog.Logger, res AccountResult) {
	outcome := "partial"
	switch {
	case res.Failed == 0:
		outcome = "completed"
	case res.Success == 0:
		outcome = "failed"
	}
	r.metrics.AccountFinished(outcome)
	attrs := []any{
		slog.String("campaign_id", campaignID),
		slog.String("account", res.Account),
		slog.String("address", res.Address.Hex()),
		slog.Int("success", res.Success),
		slog.Int("failed", res.Failed),
	}
	if res.Err != nil {
		attrs = append(attrs, slog.Any("error", res.Err))
	}
	r.audit.Info("account finished", attrs...)
	log.Info("account finished", slog.Int("success", res.Success), slog.Int("failed", res.Failed))

	if r.events == nil {
		return
	}
	ev := events.New(events.KindAccount, campaignID, outcome)
	ev.Account = res.Account
	ev.Success = res.Success
	ev.Failed = res.Failed
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	r.emit(ctx, ev)
}

func (r *Runner) publish(ctx context.Context, campaignID string, att Attempt) {
	if r.events == nil {
		return
	}
	ev := events.New(events.KindAttempt, campaignID, string(att.Status))
	ev.Account = att.Account
	ev.Sequence = att.Sequence
	ev.Token = att.Token
	ev.TxHash = att.TxHash
	if att.Err != nil {
		ev.Error = att.Err.Error()
	}
	r.emit(ctx, ev)
}

func (r *Runner) emit(ctx context.Context, ev events.Event) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Warn("event publish failed", slog.String("kind", string(ev.Kind)), slog.Any("error", err))
	}
}

func (r *Runner) alert(ctx context.Context, campaignID, account string, err error) {
	if r.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	if nerr := r.alerts.Notify(context.WithoutCancel(ctx), alerting.FromError(err, campaignID, account)); nerr != nil {
		r.logger.Warn("alert delivery failed", slog.Any("error", nerr))
	}
}
