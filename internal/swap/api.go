package swap

import (
	"context"
	"strings"

	"SwapRunner/internal/httpclient"
	"SwapRunner/internal/retry"
)

const (
	DefaultAPIBase       = "https://testnet.api.euclidprotocol.com"
	DefaultEngagementURL = "https://testnet.euclidswap.io/api/intract-track"

	executePath = "/api/v1/execute/astro/swap"
	trackPath   = "/api/v1/txn/track/swap"
)

// Endpoints locates the routing and tracking services.
type Endpoints struct {
	APIBase       string `yaml:"base_url"`
	EngagementURL string `yaml:"engagement_url"`
}

// WithDefaults fills unset endpoints.
func (e Endpoints) WithDefaults() Endpoints {
	if e.APIBase == "" {
		e.APIBase = DefaultAPIBase
	}
	if e.EngagementURL == "" {
		e.EngagementURL = DefaultEngagementURL
	}
	e.APIBase = strings.TrimRight(e.APIBase, "/")
	return e
}

// API issues routing and tracking calls through a retrying caller.
type API struct {
	endpoints Endpoints
}

// NewAPI returns an API for endpoints.
func NewAPI(endpoints Endpoints) *API {
	return &API{endpoints: endpoints.WithDefaults()}
}

// Quote asks the routing service to price req.
func (a *API) Quote(ctx context.Context, caller *retry.Caller, req QuoteRequest) (ExecuteResponse, error) {
	return a.execute(ctx, caller, "quote", req)
}

// Swap asks the routing service for calldata executing req.
func (a *API) Swap(ctx context.Context, caller *retry.Caller, req SwapRequest) (ExecuteResponse, error) {
	return a.execute(ctx, caller, "swap", req)
}

func (a *API) execute(ctx context.Context, caller *retry.Caller, name string, body any) (ExecuteResponse, error) {
	var resp ExecuteResponse
	err := caller.Execute(ctx, name, func(ctx context.Context, c *httpclient.Client) error {
		resp = ExecuteResponse{}
		return c.PostJSON(ctx, a.endpoints.APIBase+executePath, body, &resp)
	})
	if err != nil {
		return ExecuteResponse{}, err
	}
	return resp, nil
}

// TrackSwap reports a confirmed swap to the routing service.
func (a *API) TrackSwap(ctx context.Context, caller *retry.Caller, req TrackSwapRequest) error {
	return caller.Execute(ctx, "track_swap", func(ctx context.Context, c *httpclient.Client) error {
		return c.PostJSON(ctx, a.endpoints.APIBase+trackPath, req, nil)
	})
}

// TrackEngagement reports a confirmed swap to the engagement service.
func (a *API) TrackEngagement(ctx context.Context, caller *retry.Caller, req EngagementRequest) error {
	return caller.Execute(ctx, "track_engagement", func(ctx context.Context, c *httpclient.Client) error {
		return c.PostJSON(ctx, a.endpoints.EngagementURL, req, nil)
	})
}
