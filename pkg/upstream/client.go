// Package upstream talks to the backing GraphQL API. It exposes a typed
// query path for the gateway's own lookups and a raw forwarding path for
// proxied client requests.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable marks transport-level failures: the upstream could not be
// reached or answered with a non-200 status. The proxy maps it to 502.
var ErrUnavailable = errors.New("upstream unavailable")

// IsUnavailable reports whether err is a transport-level upstream failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// QueryError is a GraphQL-level error the upstream returned with HTTP 200.
type QueryError struct {
	Messages []string
}

func (e *QueryError) Error() string {
	return "upstream query error: " + strings.Join(e.Messages, "; ")
}

// Client calls the upstream GraphQL endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an upstream client against baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// Query executes a GraphQL operation on the gateway's own behalf and returns
// the raw data payload. GraphQL errors come back as *QueryError; transport
// failures wrap ErrUnavailable.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	payload := map[string]any{"query": query}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling upstream: %w", errors.Join(ErrUnavailable, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned HTTP %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var result graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Errors) > 0 {
		qe := &QueryError{}
		for _, e := range result.Errors {
			qe.Messages = append(qe.Messages, e.Message)
		}
		return nil, qe
	}
	return result.Data, nil
}

// ForwardResult is the upstream's answer to a forwarded request, relayed to
// the client as-is.
type ForwardResult struct {
	Status int
	Header http.Header
	Body   []byte
}

// Forward sends a proxied request body to the upstream with the given
// headers and returns the response verbatim. The caller is responsible for
// stripping headers that must not cross the proxy boundary.
func (c *Client) Forward(ctx context.Context, method string, body []byte, header http.Header) (*ForwardResult, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling upstream: %w", errors.Join(ErrUnavailable, err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", errors.Join(ErrUnavailable, err))
	}
	return &ForwardResult{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   respBody,
	}, nil
}
