package swap

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type releaseAddress struct {
	ChainUID string `json:"chain_uid"`
	Address  string `json:"address"`
	Amount   string `json:"amount"`
}

type release struct {
	Dex            string           `json:"dex"`
	ReleaseAddress []releaseAddress `json:"release_address"`
	Token          string           `json:"token"`
	Amount         string           `json:"amount"`
}

type trackedStep struct {
	Route     []string `json:"route"`
	Dex       string   `json:"dex"`
	ChainUID  string   `json:"chain_uid"`
	AmountIn  string   `json:"amount_in"`
	AmountOut string   `json:"amount_out"`
}

type trackMeta struct {
	AssetInType string    `json:"asset_in_type"`
	Releases    []release `json:"releases"`
	Swaps       struct {
		Path []trackedStep `json:"path"`
	} `json:"swaps"`
}

// TrackSwapRequest is the body of the swap tracking call. Meta is a
// JSON-encoded document, not a nested object.
type TrackSwapRequest struct {
	Chain  string `json:"chain"`
	TxHash string `json:"tx_hash"`
	Meta   string `json:"meta"`
}

// EngagementRequest is the body of the engagement tracking call.
type EngagementRequest struct {
	ChainUID      string `json:"chain_uid"`
	TxHash        string `json:"tx_hash"`
	WalletAddress string `json:"wallet_address"`
	Type          string `json:"type"`
}

// NewTrackSwapRequest describes a confirmed swap for the tracking service.
func NewTrackSwapRequest(cfg TokenConfig, p Params, txHash common.Hash, wallet common.Address, amountIn *big.Int, amountOut string) (TrackSwapRequest, error) {
	p = p.WithDefaults()
	var meta trackMeta
	meta.AssetInType = "native"
	meta.Releases = []release{{
		Dex: p.Dex,
		ReleaseAddress: []releaseAddress{{
			ChainUID: cfg.ChainUID,
			Address:  wallet.Hex(),
			Amount:   amountOut,
		}},
		Token:  cfg.Symbol,
		Amount: "",
	}}
	meta.Swaps.Path = []trackedStep{{
		Route:     append([]string(nil), cfg.Route...),
		Dex:       p.Dex,
		ChainUID:  p.PathChainUID,
		AmountIn:  amountIn.String(),
		AmountOut: amountOut,
	}}
	raw, err := json.Marshal(meta)
	if err != nil {
		return TrackSwapRequest{}, err
	}
	return TrackSwapRequest{Chain: p.SenderChainUID, TxHash: txHash.Hex(), Meta: string(raw)}, nil
}

// NewEngagementRequest reports a swap for wallet.
func NewEngagementRequest(p Params, txHash common.Hash, wallet common.Address) EngagementRequest {
	p = p.WithDefaults()
	return EngagementRequest{
		ChainUID:      p.SenderChainUID,
		TxHash:        txHash.Hex(),
		WalletAddress: wallet.Hex(),
		Type:          "swap",
	}
}
