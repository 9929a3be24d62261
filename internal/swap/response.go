package swap

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "SwapRunner/internal/errors"
)

const (
	CodeInvalidQuote    xerrors.Code = "INVALID_QUOTE"
	CodeMissingCalldata xerrors.Code = "MISSING_CALLDATA"
	CodeSenderMismatch  xerrors.Code = "SENDER_MISMATCH"
)

func init() {
	xerrors.Register(CodeInvalidQuote, xerrors.Attributes{
		Message:  "quote has no usable output amount",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeMissingCalldata, xerrors.Attributes{
		Message:  "swap response carries no calldata",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeSenderMismatch, xerrors.Attributes{
		Message:  "swap response echoes a different sender",
		Severity: xerrors.SeverityWarning,
	})
}

// Msg is one message of an execute response.
type Msg struct {
	Data string `json:"data"`
}

// ExecuteResponse is the answer of the quote/execute endpoint.
type ExecuteResponse struct {
	Meta   string     `json:"meta,omitempty"`
	Msgs   []Msg      `json:"msgs,omitempty"`
	Sender *ChainUser `json:"sender,omitempty"`
}

// Quote is what the planner keeps from a quote answer.
type Quote struct {
	AmountOut string
	FromMeta  bool
}

// amount accepts a JSON string or number.
type amount string

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*a = amount(n.String())
	return nil
}

type quoteMeta struct {
	Swaps struct {
		Path []struct {
			AmountOut amount `json:"amount_out"`
		} `json:"path"`
	} `json:"swaps"`
}

// ParseQuote resolves the output amount of a quote answer: the first path
// step of the JSON-encoded meta when present, else fallback. An empty or "0"
// amount is INVALID_QUOTE. Parsing does not modify resp.
func ParseQuote(resp ExecuteResponse, fallback string) (Quote, error) {
	if strings.TrimSpace(resp.Meta) == "" {
		q := Quote{AmountOut: strings.TrimSpace(fallback)}
		if !validAmount(q.AmountOut) {
			return Quote{}, xerrors.New(CodeInvalidQuote, "no meta and no fallback amount")
		}
		return q, nil
	}

	var meta quoteMeta
	if err := json.Unmarshal([]byte(resp.Meta), &meta); err != nil {
		return Quote{}, xerrors.Wrap(CodeInvalidQuote, err, "quote meta is not valid JSON")
	}
	if len(meta.Swaps.Path) == 0 {
		return Quote{}, xerrors.New(CodeInvalidQuote, "quote meta has no swap path")
	}
	first := meta.Swaps.Path[0]
	q := Quote{
		AmountOut: strings.TrimSpace(string(first.AmountOut)),
		FromMeta:  true,
	}
	if !validAmount(q.AmountOut) {
		return Quote{}, xerrors.New(CodeInvalidQuote, "quote amount_out is empty or zero",
			xerrors.WithMetadata("amount_out", q.AmountOut))
	}
	return q, nil
}

func validAmount(s string) bool {
	return s != "" && s != "0"
}

// ExtractCalldata returns the decoded calldata of the first message after
// checking that the echoed sender equals expected, ignoring case. A missing
// sender counts as a mismatch.
func ExtractCalldata(resp ExecuteResponse, expected common.Address) ([]byte, error) {
	if len(resp.Msgs) == 0 || strings.TrimSpace(resp.Msgs[0].Data) == "" {
		return nil, xerrors.New(CodeMissingCalldata, "")
	}
	data, err := hexutil.Decode(strings.TrimSpace(resp.Msgs[0].Data))
	if err != nil || len(data) == 0 {
		return nil, xerrors.Wrap(CodeMissingCalldata, err, "calldata is not valid hex")
	}
	if resp.Sender == nil || !strings.EqualFold(strings.TrimSpace(resp.Sender.Address), expected.Hex()) {
		got := ""
		if resp.Sender != nil {
			got = resp.Sender.Address
		}
		return nil, xerrors.New(CodeSenderMismatch, "",
			xerrors.WithMetadata("expected", expected.Hex()),
			xerrors.WithMetadata("got", got),
		)
	}
	return data, nil
}
