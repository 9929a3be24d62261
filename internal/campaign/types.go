// Package campaign runs swap attempts for one or more accounts: the balance
// gate, the per-transaction pipeline, pacing and cooldowns, and the
// per-account success/failure bookkeeping.
package campaign

import (
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "SwapRunner/internal/errors"
	"SwapRunner/internal/proxy"
	"SwapRunner/internal/swap"
)

const (
	CodeInsufficientBalance xerrors.Code = "INSUFFICIENT_BALANCE"
	CodeAccountSetup        xerrors.Code = "ACCOUNT_SETUP_FAILED"
)

func init() {
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{
		Message:  "insufficient balance for the planned swaps",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeAccountSetup, xerrors.Attributes{
		Message:  "account could not be prepared",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// TargetRandom selects a token uniformly per transaction.
const TargetRandom = "random"

// Status is the lifecycle state of one attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether no further transition can follow.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusSkipped
}

// Attempt is one transaction of an account's plan.
type Attempt struct {
	ID        string
	Account   string
	Address   common.Address
	Sequence  int
	Token     string
	AmountIn  *big.Int
	AmountOut string
	TxHash    string
	Status    Status
	Err       error
	// TrackingErr is the last best-effort tracking failure; it never changes Status.
	TrackingErr error
}

func (a *Attempt) fail(err error) {
	a.Status = StatusFailed
	a.Err = err
}

func (a *Attempt) skip(err error) {
	a.Status = StatusSkipped
	a.Err = err
}

// Plan is what the operator asked for.
type Plan struct {
	Target     string
	Count      int
	AmountIn   *big.Int
	UseProxies bool
}

// Validate checks the plan against the configured tokens.
func (p Plan) Validate(s Settings) error {
	if p.Count < 1 {
		return xerrors.New(xerrors.CodeInvalidArgument, "transaction count must be at least 1")
	}
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "amount per transaction must be positive")
	}
	target := strings.ToLower(strings.TrimSpace(p.Target))
	if target == TargetRandom {
		if len(s.RandomTokens) == 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, "no tokens configured for random selection")
		}
		for _, sym := range s.RandomTokens {
			if _, ok := s.Tokens[sym]; !ok {
				return xerrors.New(xerrors.CodeConfig, "random token "+sym+" is not configured")
			}
		}
		return nil
	}
	if _, ok := s.Tokens[target]; !ok {
		return xerrors.New(xerrors.CodeInvalidArgument, "unknown target token "+p.Target)
	}
	return nil
}

// Range is an inclusive pause window.
type Range struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Pacing holds every pause of the campaign.
type Pacing struct {
	PreQuote            Range         `yaml:"pre_quote"`
	PostQuote           Range         `yaml:"post_quote"`
	PreTracking         Range         `yaml:"pre_tracking"`
	BetweenTransactions Range         `yaml:"between_transactions"`
	BetweenAccounts     Range         `yaml:"between_accounts"`
	RateLimitCooldown   time.Duration `yaml:"rate_limit_cooldown"`
	ForbiddenCooldown   time.Duration `yaml:"forbidden_cooldown"`
}

// DefaultPacing mirrors the live service's tolerated request rate.
func DefaultPacing() Pacing {
	return Pacing{
		PreQuote:            Range{Min: time.Second, Max: 3 * time.Second},
		PostQuote:           Range{Min: 2 * time.Second, Max: 4 * time.Second},
		PreTracking:         Range{Min: 2 * time.Second, Max: 4 * time.Second},
		BetweenTransactions: Range{Min: 60 * time.Second, Max: 90 * time.Second},
		BetweenAccounts:     Range{Min: 30 * time.Second, Max: 60 * time.Second},
		RateLimitCooldown:   30 * time.Second,
		ForbiddenCooldown:   45 * time.Second,
	}
}

// DefaultGasReserve is the per-transaction fee allowance added to the
// swapped amount by the balance gate: 0.00009794 ETH.
var DefaultGasReserve = big.NewInt(97_940_000_000_000)

// DefaultExplorerURL prefixes transaction hashes in success logs.
const DefaultExplorerURL = "https://sepolia.arbiscan.io/tx/"

// DefaultProbeURL is fetched through a proxy to test liveness.
const DefaultProbeURL = "https://api.ipify.org?format=json"

// Settings is the static campaign configuration.
type Settings struct {
	Tokens       map[string]swap.TokenConfig
	RandomTokens []string
	Params       swap.Params
	GasReserve   *big.Int
	Pacing       Pacing
	ProbeURL     string
	ProbeTimeout time.Duration
	// StickyProxy probes for one live proxy per transaction and pins it as
	// the first client of every call in that transaction.
	StickyProxy bool
	ExplorerURL string
}

// DefaultSettings returns the built-in token set with default pacing.
func DefaultSettings() Settings {
	tokens := swap.DefaultTokens()
	return Settings{
		Tokens:       tokens,
		RandomTokens: swap.Symbols(tokens),
		Params:       swap.DefaultParams(),
		GasReserve:   new(big.Int).Set(DefaultGasReserve),
		Pacing:       DefaultPacing(),
		ProbeURL:     DefaultProbeURL,
		ProbeTimeout: proxy.DefaultProbeTimeout,
		StickyProxy:  true,
		ExplorerURL:  DefaultExplorerURL,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if len(s.Tokens) == 0 {
		s.Tokens = def.Tokens
	}
	if len(s.RandomTokens) == 0 {
		s.RandomTokens = swap.Symbols(s.Tokens)
	}
	s.RandomTokens = slices.Clone(s.RandomTokens)
	s.Params = s.Params.WithDefaults()
	if s.GasReserve == nil {
		s.GasReserve = def.GasReserve
	}
	if s.Pacing == (Pacing{}) {
		s.Pacing = def.Pacing
	}
	if s.ProbeURL == "" {
		s.ProbeURL = def.ProbeURL
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = def.ProbeTimeout
	}
	if s.ExplorerURL == "" {
		s.ExplorerURL = def.ExplorerURL
	}
	return s
}

// AccountResult tallies one account. Success+Failed always equals the
// planned count.
type AccountResult struct {
	Account  string
	Address  common.Address
	Success  int
	Failed   int
	Attempts []Attempt
	Err      error
}

// Result is the campaign summary.
type Result struct {
	CampaignID string
	Accounts   []AccountResult
	Success    int
	Failed     int
	Canceled   bool
}

func (r *Result) add(ar AccountResult) {
	r.Accounts = append(r.Accounts, ar)
	r.Success += ar.Success
	r.Failed += ar.Failed
}
