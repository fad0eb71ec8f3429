package eventbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/mailbox"
	"github.com/kingrea/lattice-org/internal/resume"
)

// Client talks to a running bridge. Its Send has the same contract as the
// in-process runtime: an address with no live actor is (false, nil).
type Client struct {
	baseURL string
	http    *http.Client
}

var _ resume.Sender = (*Client)(nil)

// NewClient returns a client for the bridge at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Health fetches the bridge health summary.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	_, err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Start creates an actor. A role identity that is already running returns
// the existing run and an error wrapping actor.ErrAlreadyActive.
func (c *Client) Start(ctx context.Context, role string, initial json.RawMessage) (StartResponse, error) {
	var out StartResponse
	status, err := c.do(ctx, http.MethodPost, "/actors", StartRequest{Role: role, InitialState: initial}, &out)
	if status == http.StatusServiceUnavailable {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			out = StartResponse{Status: StatusAlreadyActive, RunID: apiErr.RunID}
			if apiErr.RunID != "" {
				out.Address = mailbox.NewAddress(role, apiErr.RunID).String()
			}
		}
		return out, fmt.Errorf("%w: %v", actor.ErrAlreadyActive, err)
	}
	return out, err
}

// Send implements resume.Sender.
func (c *Client) Send(ctx context.Context, address string, msg mailbox.Message) (bool, error) {
	req := SendRequest{Address: address, Type: msg.Type, Payload: msg.Payload, ID: msg.ID}
	status, err := c.do(ctx, http.MethodPost, "/send", req, nil)
	switch {
	case status == http.StatusNotFound:
		return false, nil
	case status == http.StatusBadRequest:
		return false, fmt.Errorf("%w: %v", actor.ErrValidation, err)
	case err != nil:
		return false, err
	}
	return true, nil
}

// Actors lists live actors.
func (c *Client) Actors(ctx context.Context) ([]actor.Info, error) {
	var out []actor.Info
	_, err := c.do(ctx, http.MethodGet, "/actors", nil, &out)
	return out, err
}

// State returns the committed state of the actor at address.
func (c *Client) State(ctx context.Context, address string) (json.RawMessage, error) {
	var out json.RawMessage
	status, err := c.do(ctx, http.MethodGet, "/state?address="+url.QueryEscape(address), nil, &out)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", actor.ErrNotFound, address)
	}
	return out, err
}

// APIError is a non-2xx bridge response.
type APIError struct {
	Code    int
	Message string
	RunID   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("eventbridge: %d: %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("eventbridge: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("eventbridge: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("eventbridge: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("eventbridge: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return resp.StatusCode, &APIError{Code: resp.StatusCode, Message: e.Error, RunID: e.RunID}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("eventbridge: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
