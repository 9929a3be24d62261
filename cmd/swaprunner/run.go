package main

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"SwapRunner/internal/campaign"
	"SwapRunner/internal/retry"
	"SwapRunner/internal/units"
	"SwapRunner/internal/wallet"
)

// runOptions 预先回答交互式问题。
type runOptions struct {
	target     string
	count      int
	amount     string
	account    string
	useProxies bool
	yes        bool
}

func (o *runOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.target, "target", "", "token to buy: euclid, andr, mon or random")
	f.IntVar(&o.count, "count", 0, "number of transactions per account")
	f.StringVar(&o.amount, "amount", "", "ETH amount per transaction, e.g. 0.001")
	f.StringVar(&o.account, "account", "", "account to use: 'all', an index, a label or an address")
	f.BoolVar(&o.useProxies, "proxies", false, "route API calls through the loaded proxies")
	f.BoolVarP(&o.yes, "yes", "y", false, "skip the final confirmation")
}

func runCampaign(cmd *cobra.Command, global *globalOptions, opts *runOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := bootstrap(ctx, global)
	if err != nil {
		return err
	}
	defer a.Close()

	p := newPrompter(cmd.InOrStdin(), out)
	target := strings.ToLower(strings.TrimSpace(opts.target))
	if target == "" {
		target, err = p.chooseTarget()
		if errors.Is(err, errExit) {
			fmt.Fprintln(out, "Exiting...")
			return nil
		}
		if err != nil {
			return err
		}
	}

	count := opts.count
	if count == 0 {
		if count, err = p.askCount(); err != nil {
			return err
		}
	} else if count < 0 {
		return fmt.Errorf("invalid --count %d", count)
	}

	var amount *big.Int
	if opts.amount != "" {
		amount, err = parseAmount(opts.amount)
	} else {
		amount, err = p.askAmount()
	}
	if err != nil {
		return err
	}

	all, err := a.accounts()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return errors.New("no private key found: set PRIVATE_KEY, PRIVATE_KEYS or PRIVATE_KEY_<n> in .env, or accounts.key_file")
	}
	var selected []*wallet.Account
	if opts.account != "" {
		selected, err = selectAccounts(all, opts.account)
	} else {
		selected, err = p.chooseAccounts(all)
	}
	if err != nil {
		return err
	}

	useProxies := false
	if a.pool.Len() > 0 {
		if cmd.Flags().Changed("proxies") {
			useProxies = opts.useProxies
		} else if useProxies, err = p.confirm("Use proxies?"); err != nil {
			return err
		}
	} else if opts.useProxies {
		a.log.Warn("--proxies given but the proxy list is empty, running direct")
	}

	plan := campaign.Plan{Target: target, Count: count, AmountIn: amount, UseProxies: useProxies}
	orch, client, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return err
	}

	printSummary(out, summary{
		plan:     plan,
		accounts: selected,
		required: orch.Required(plan),
		chainID:  chainID,
		retry:    a.cfg.Retry,
	})
	if !opts.yes {
		ok, err := p.confirm("Continue?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Operation cancelled.")
			return nil
		}
	}

	accounts := make([]campaign.Account, len(selected))
	for i, acct := range selected {
		accounts[i] = acct
	}
	res, err := orch.Run(ctx, accounts, plan)
	if err != nil {
		return err
	}
	printResult(out, res)
	return nil
}

type summary struct {
	plan     campaign.Plan
	accounts []*wallet.Account
	required *big.Int
	chainID  *big.Int
	retry    retry.Config
}

func printSummary(w io.Writer, s summary) {
	yesNo := "No"
	if s.plan.UseProxies {
		yesNo = "Yes"
	}
	fmt.Fprintln(w, "Transaction Summary:")
	fmt.Fprintf(w, "  Network:       Arbitrum Sepolia (Chain ID: %s)\n", s.chainID)
	fmt.Fprintf(w, "  Swap type:     %s\n", targetName(s.plan.Target))
	fmt.Fprintf(w, "  Transactions:  %d per account\n", s.plan.Count)
	fmt.Fprintf(w, "  ETH per tx:    %s ETH\n", units.FormatEther(s.plan.AmountIn))
	fmt.Fprintf(w, "  Total ETH:     %s ETH per account (incl. gas reserve)\n", units.FormatEther(s.required))
	fmt.Fprintf(w, "  Using proxies: %s\n", yesNo)
	fmt.Fprintf(w, "  Retry policy:  %d attempts with %s+ backoff\n", s.retry.MaxRetries, s.retry.BaseDelay)
	fmt.Fprintf(w, "  Accounts:      %d\n", len(s.accounts))
	for _, a := range s.accounts {
		fmt.Fprintf(w, "    - %s %s\n", a.Label(), a.Short())
	}
	fmt.Fprintln(w)
}

func printResult(w io.Writer, res campaign.Result) {
	fmt.Fprintf(w, "\nCampaign %s finished", res.CampaignID)
	if res.Canceled {
		fmt.Fprint(w, " (interrupted)")
	}
	fmt.Fprintln(w)
	for _, acct := range res.Accounts {
		fmt.Fprintf(w, "  %s %s: %d succeeded, %d failed", acct.Account, acct.Address.Hex(), acct.Success, acct.Failed)
		if acct.Err != nil {
			fmt.Fprintf(w, " (%v)", acct.Err)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "  Total: %d succeeded, %d failed at %s\n", res.Success, res.Failed, time.Now().Format(time.DateTime))
}
