// Package executor turns swap calldata into a confirmed on-chain transaction.
package executor

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	xerrors "SwapRunner/internal/errors"
)

const (
	CodeSimulationFailed   xerrors.Code = "SIMULATION_FAILED"
	CodeSubmitFailed       xerrors.Code = "SUBMIT_FAILED"
	CodeTxReverted         xerrors.Code = "TX_REVERTED"
	CodeConfirmationFailed xerrors.Code = "CONFIRMATION_FAILED"
)

func init() {
	xerrors.Register(CodeSimulationFailed, xerrors.Attributes{
		Message:  "transaction simulation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSubmitFailed, xerrors.Attributes{
		Message:  "transaction could not be submitted",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTxReverted, xerrors.Attributes{
		Message:  "transaction reverted on chain",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeConfirmationFailed, xerrors.Attributes{
		Message:  "transaction confirmation not observed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// Defaults of the fixed fee and gas policy.
var (
	DefaultRouter               = common.HexToAddress("0x7f2CC9FE79961f628Da671Ac62d1f2896638edd5")
	DefaultMaxFeePerGas         = big.NewInt(500_000_000)
	DefaultMaxPriorityFeePerGas = big.NewInt(250_000_000)
)

const (
	DefaultGasLimit       uint64 = 1_500_000
	DefaultGasMargin      uint64 = 110
	DefaultConfirmTimeout        = 5 * time.Minute
)

// Stage is a step of the submission state machine.
type Stage int

const (
	StageBuilt Stage = iota
	StageGasEstimated
	StageSimulated
	StageSent
	StageConfirmed
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageBuilt:
		return "built"
	case StageGasEstimated:
		return "gas_estimated"
	case StageSimulated:
		return "simulated"
	case StageSent:
		return "sent"
	case StageConfirmed:
		return "confirmed"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Ledger is the chain access the executor needs.
type Ledger interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Signer signs for one address.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Config is the fixed transaction policy.
type Config struct {
	Router               common.Address
	ChainID              *big.Int
	DefaultGasLimit      uint64
	GasMarginPercent     uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	ConfirmTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.Router == (common.Address{}) {
		c.Router = DefaultRouter
	}
	if c.DefaultGasLimit == 0 {
		c.DefaultGasLimit = DefaultGasLimit
	}
	if c.GasMarginPercent == 0 {
		c.GasMarginPercent = DefaultGasMargin
	}
	if c.MaxFeePerGas == nil {
		c.MaxFeePerGas = DefaultMaxFeePerGas
	}
	if c.MaxPriorityFeePerGas == nil {
		c.MaxPriorityFeePerGas = DefaultMaxPriorityFeePerGas
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	return c
}

// Request is one swap submission.
type Request struct {
	Signer Signer
	Value  *big.Int
	Data   []byte
	// OnStage, when set, observes this request's transitions after the
	// executor-wide hook.
	OnStage StageHook
}

// Outcome records how far a submission got.
type Outcome struct {
	Stage        Stage
	GasLimit     uint64
	GasEstimated bool
	Nonce        uint64
	TxHash       common.Hash
	GasUsed      uint64
	BlockNumber  *big.Int
	// Latency is the time from broadcast to receipt.
	Latency time.Duration
}

// StageHook observes every transition.
type StageHook func(stage Stage, out Outcome)

// Executor runs the state machine against a ledger.
type Executor struct {
	ledger Ledger
	cfg    Config
	logger *slog.Logger
	hook   StageHook
}

// Option customises an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStageHook registers a transition observer.
func WithStageHook(h StageHook) Option {
	return func(e *Executor) {
		e.hook = h
	}
}

// New returns an Executor. cfg.ChainID is required.
func New(ledger Ledger, cfg Config, opts ...Option) (*Executor, error) {
	if ledger == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "ledger is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "chain id is required")
	}
	e := &Executor{ledger: ledger, cfg: cfg.withDefaults(), logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Config returns the effective policy.
func (e *Executor) Config() Config { return e.cfg }

// Execute estimates gas, simulates, signs, sends and waits for req. Gas
// estimation failures fall back to the default limit; every other failure
// ends in StageFailed with a coded error.
func (e *Executor) Execute(ctx context.Context, req Request) (Outcome, error) {
	if req.Signer == nil || req.Value == nil || len(req.Data) == 0 {
		return Outcome{Stage: StageFailed}, xerrors.New(xerrors.CodeInvalidArgument, "signer, value and calldata are required")
	}
	emit := func(out Outcome) {
		if e.hook != nil {
			e.hook(out.Stage, out)
		}
		if req.OnStage != nil {
			req.OnStage(out.Stage, out)
		}
	}
	fail := func(out Outcome, err error) (Outcome, error) {
		out.Stage = StageFailed
		emit(out)
		return out, err
	}
	from := req.Signer.Address()
	router := e.cfg.Router
	out := Outcome{Stage: StageBuilt, GasLimit: e.cfg.DefaultGasLimit}
	emit(out)

	msg := gethcore.CallMsg{
		From:      from,
		To:        &router,
		Value:     req.Value,
		Data:      req.Data,
		GasFeeCap: e.cfg.MaxFeePerGas,
		GasTipCap: e.cfg.MaxPriorityFeePerGas,
	}

	estimate, err := e.ledger.EstimateGas(ctx, msg)
	if err != nil || estimate == 0 {
		if ctx.Err() != nil {
			return fail(out, xerrors.Wrap(xerrors.CodeCanceled, ctx.Err(), "gas estimation aborted"))
		}
		e.logger.Warn("gas estimation failed, using default limit",
			slog.Uint64("gas_limit", e.cfg.DefaultGasLimit),
			slog.Any("error", err),
		)
	} else {
		out.GasLimit = estimate * e.cfg.GasMarginPercent / 100
		out.GasEstimated = true
		e.logger.Debug("gas estimated", slog.Uint64("estimate", estimate), slog.Uint64("gas_limit", out.GasLimit))
	}
	out.Stage = StageGasEstimated
	emit(out)

	msg.Gas = out.GasLimit
	if _, err := e.ledger.CallContract(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return fail(out, xerrors.Wrap(xerrors.CodeCanceled, ctx.Err(), "simulation aborted"))
		}
		reason := RevertReason(err)
		return fail(out, xerrors.Wrap(CodeSimulationFailed, err, "", xerrors.WithMetadata("reason", reason)))
	}
	out.Stage = StageSimulated
	emit(out)

	nonce, err := e.ledger.PendingNonceAt(ctx, from)
	if err != nil {
		return fail(out, xerrors.Wrap(CodeSubmitFailed, err, "fetch pending nonce"))
	}
	out.Nonce = nonce
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: e.cfg.MaxPriorityFeePerGas,
		GasFeeCap: e.cfg.MaxFeePerGas,
		Gas:       out.GasLimit,
		To:        &router,
		Value:     req.Value,
		Data:      req.Data,
	})
	signed, err := req.Signer.SignTx(tx, e.cfg.ChainID)
	if err != nil {
		return fail(out, xerrors.Wrap(CodeSubmitFailed, err, "sign transaction"))
	}
	if err := e.ledger.SendTransaction(ctx, signed); err != nil {
		return fail(out, xerrors.Wrap(CodeSubmitFailed, err, ""))
	}
	out.TxHash = signed.Hash()
	out.Stage = StageSent
	emit(out)
	sentAt := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := e.ledger.WaitMined(waitCtx, out.TxHash)
	if err != nil {
		return fail(out, xerrors.Wrap(CodeConfirmationFailed, err, "", xerrors.WithMetadata("tx_hash", out.TxHash.Hex())))
	}
	out.Latency = time.Since(sentAt)
	out.GasUsed = receipt.GasUsed
	out.BlockNumber = receipt.BlockNumber
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fail(out, xerrors.New(CodeTxReverted, "", xerrors.WithMetadata("tx_hash", out.TxHash.Hex())))
	}
	out.Stage = StageConfirmed
	emit(out)
	return out, nil
}

// RevertReason decodes an Error(string) revert carried by a node error, or
// returns the error text when no revert data is attached.
func RevertReason(err error) string {
	if err == nil {
		return ""
	}
	var dataErr rpc.DataError
	if stdErrors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(raw); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}
