package swap

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "SwapRunner/internal/errors"
)

// Params are the request fields that do not depend on the target token.
type Params struct {
	Slippage         string `yaml:"slippage"`
	PartnerFeeBPS    int    `yaml:"partner_fee_bps"`
	PartnerRecipient string `yaml:"partner_recipient"`
	SenderChainUID   string `yaml:"sender_chain_uid"`
	PathChainUID     string `yaml:"path_chain_uid"`
	Dex              string `yaml:"dex"`
}

// DefaultParams returns the values the Euclid web app sends.
func DefaultParams() Params {
	return Params{
		Slippage:         "500",
		PartnerFeeBPS:    10,
		PartnerRecipient: "0x8ed341da628fb9f540ab3a4ce4432ee9b4f5d658",
		SenderChainUID:   "arbitrum",
		PathChainUID:     "vsl",
		Dex:              "euclid",
	}
}

// WithDefaults fills unset fields from DefaultParams.
func (p Params) WithDefaults() Params {
	def := DefaultParams()
	if p.Slippage == "" {
		p.Slippage = def.Slippage
	}
	if p.PartnerFeeBPS <= 0 {
		p.PartnerFeeBPS = def.PartnerFeeBPS
	}
	if p.PartnerRecipient == "" {
		p.PartnerRecipient = def.PartnerRecipient
	}
	if p.SenderChainUID == "" {
		p.SenderChainUID = def.SenderChainUID
	}
	if p.PathChainUID == "" {
		p.PathChainUID = def.PathChainUID
	}
	if p.Dex == "" {
		p.Dex = def.Dex
	}
	return p
}

type NativeToken struct {
	Typename string `json:"__typename"`
	Denom    string `json:"denom"`
}

type TokenType struct {
	Typename string      `json:"__typename"`
	Native   NativeToken `json:"native"`
}

type AssetIn struct {
	Token     string    `json:"token"`
	TokenType TokenType `json:"token_type"`
}

type ChainUser struct {
	Address  string `json:"address"`
	ChainUID string `json:"chain_uid"`
}

type Limit struct {
	LessThanOrEqual string `json:"less_than_or_equal"`
}

type CrossChainAddress struct {
	User  ChainUser `json:"user"`
	Limit Limit     `json:"limit"`
}

type PartnerFee struct {
	BPS       int    `json:"partner_fee_bps"`
	Recipient string `json:"recipient"`
}

// PathStep is one routed leg of a swap.
type PathStep struct {
	Route            []string `json:"route"`
	Dex              string   `json:"dex"`
	AmountIn         string   `json:"amount_in"`
	AmountOut        string   `json:"amount_out"`
	ChainUID         string   `json:"chain_uid"`
	AmountOutForHops []string `json:"amount_out_for_hops"`
}

type SwapPath struct {
	Path             []PathStep `json:"path"`
	TotalPriceImpact string     `json:"total_price_impact"`
}

// QuoteRequest is the body of a quote call. Build it with NewQuoteRequest.
type QuoteRequest struct {
	AmountIn            string              `json:"amount_in"`
	AssetIn             AssetIn             `json:"asset_in"`
	Slippage            string              `json:"slippage"`
	CrossChainAddresses []CrossChainAddress `json:"cross_chain_addresses"`
	PartnerFee          PartnerFee          `json:"partnerFee"`
	Sender              ChainUser           `json:"sender"`
	SwapPath            SwapPath            `json:"swap_path"`
}

// SwapRequest is the body of the execute call. It has the quote's shape with
// the final amount filled in.
type SwapRequest struct {
	QuoteRequest
}

// NewQuoteRequest builds the quote body for swapping amountIn wei of ETH into
// cfg's token. Intermediate hop amounts are zeroed.
func NewQuoteRequest(cfg TokenConfig, amountIn *big.Int, sender common.Address, p Params) (QuoteRequest, error) {
	if err := cfg.Validate(); err != nil {
		return QuoteRequest{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid token config")
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return QuoteRequest{}, xerrors.New(xerrors.CodeInvalidArgument, "amount in must be positive")
	}
	if sender == (common.Address{}) {
		return QuoteRequest{}, xerrors.New(xerrors.CodeInvalidArgument, "sender address is required")
	}
	p = p.WithDefaults()

	amount := amountIn.String()
	hops := make([]string, len(cfg.Route))
	for i, token := range cfg.Route {
		hops[i] = fmt.Sprintf("%s: 0", token)
	}
	return QuoteRequest{
		AmountIn: amount,
		AssetIn: AssetIn{
			Token: "eth",
			TokenType: TokenType{
				Typename: "NativeTokenType",
				Native:   NativeToken{Typename: "NativeToken", Denom: "eth"},
			},
		},
		Slippage: p.Slippage,
		CrossChainAddresses: []CrossChainAddress{{
			User:  ChainUser{Address: sender.Hex(), ChainUID: cfg.ChainUID},
			Limit: Limit{LessThanOrEqual: cfg.DefaultAmountOut},
		}},
		PartnerFee: PartnerFee{BPS: p.PartnerFeeBPS, Recipient: p.PartnerRecipient},
		Sender:     ChainUser{Address: sender.Hex(), ChainUID: p.SenderChainUID},
		SwapPath: SwapPath{
			Path: []PathStep{{
				Route:            append([]string(nil), cfg.Route...),
				Dex:              p.Dex,
				AmountIn:         amount,
				AmountOut:        "0",
				ChainUID:         p.PathChainUID,
				AmountOutForHops: hops,
			}},
			TotalPriceImpact: cfg.PriceImpact,
		},
	}, nil
}

// NewSwapRequest clones q with the quoted amount and the per-hop labels of
// cfg. Hop values the quote meta may carry are not used.
func NewSwapRequest(q QuoteRequest, quote Quote, cfg TokenConfig) (SwapRequest, error) {
	if !validAmount(quote.AmountOut) {
		return SwapRequest{}, xerrors.New(CodeInvalidQuote, "quote has no usable amount_out")
	}
	if len(q.SwapPath.Path) == 0 {
		return SwapRequest{}, xerrors.New(xerrors.CodeInvalidArgument, "quote request has no swap path")
	}
	out := q.clone()
	step := &out.SwapPath.Path[0]
	step.AmountOut = quote.AmountOut
	step.AmountOutForHops = append([]string(nil), cfg.AmountOutHops...)
	if cfg.PriceImpact != "" {
		out.SwapPath.TotalPriceImpact = cfg.PriceImpact
	}
	return SwapRequest{QuoteRequest: out}, nil
}

func (q QuoteRequest) clone() QuoteRequest {
	q.CrossChainAddresses = append([]CrossChainAddress(nil), q.CrossChainAddresses...)
	path := make([]PathStep, len(q.SwapPath.Path))
	for i, step := range q.SwapPath.Path {
		step.Route = append([]string(nil), step.Route...)
		step.AmountOutForHops = append([]string(nil), step.AmountOutForHops...)
		path[i] = step
	}
	q.SwapPath.Path = path
	return q
}
