package server

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a remote VerifyService.
type Client struct {
	verify    *connect.Client[VerifyRequest, VerifyResponse]
	catalogue *connect.Client[CatalogueRequest, CatalogueResponse]
}

// NewClient creates a client for the server at baseURL, for example
// "http://localhost:4567". A nil httpClient means http.DefaultClient.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimRight(baseURL, "/")
	codec := connect.WithCodec(newCBORCodec())
	return &Client{
		verify:    connect.NewClient[VerifyRequest, VerifyResponse](httpClient, baseURL+VerifyProcedure, codec),
		catalogue: connect.NewClient[CatalogueRequest, CatalogueResponse](httpClient, baseURL+CatalogueProcedure, codec),
	}
}

// Verify sends units for verification.
func (c *Client) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	resp, err := c.verify.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Catalogue fetches the server's opcode catalogue.
func (c *Client) Catalogue(ctx context.Context) (*CatalogueResponse, error) {
	resp, err := c.catalogue.CallUnary(ctx, connect.NewRequest(&CatalogueRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
