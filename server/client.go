package server

import (
	"context"

	"connectrpc.com/connect"
)

// Client is a typed client for the stats service.
type Client struct {
	snapshot *connect.Client[SnapshotRequest, SnapshotResponse]
	reset    *connect.Client[ResetRequest, ResetResponse]
	families *connect.Client[FamiliesRequest, FamiliesResponse]
}

// NewClient creates a stats service client for the given base URL.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	opts := connect.WithCodec(cborCodec{})
	return &Client{
		snapshot: connect.NewClient[SnapshotRequest, SnapshotResponse](
			httpClient, baseURL+SnapshotProcedure, opts),
		reset: connect.NewClient[ResetRequest, ResetResponse](
			httpClient, baseURL+ResetProcedure, opts),
		families: connect.NewClient[FamiliesRequest, FamiliesResponse](
			httpClient, baseURL+FamiliesProcedure, opts),
	}
}

// Snapshot fetches the current counters, optionally filtered to one family.
func (c *Client) Snapshot(ctx context.Context, family string) (*SnapshotResponse, error) {
	resp, err := c.snapshot.CallUnary(ctx, connect.NewRequest(&SnapshotRequest{Family: family}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Reset zeroes every counter on the server.
func (c *Client) Reset(ctx context.Context) (*ResetResponse, error) {
	resp, err := c.reset.CallUnary(ctx, connect.NewRequest(&ResetRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Families lists the installed adaptive families.
func (c *Client) Families(ctx context.Context) (*FamiliesResponse, error) {
	resp, err := c.families.CallUnary(ctx, connect.NewRequest(&FamiliesRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
