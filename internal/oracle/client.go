package oracle

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

	"github.com/alanyoungcy/band4band/internal/api"
	"github.com/alanyoungcy/band4band/internal/domain"
)

// RequestSigner produces credentials for a request.
type RequestSigner interface {
	Address() domain.Identity
	SignRequest(req domain.Request, nonce uint64) (domain.Credentials, error)
}

// APIError is a non-2xx response from the node.
type APIError struct {
	Status int
	Body   api.ErrorBody
}

func (e *APIError) Error() string {
	if e.Body.Code != "" {
		return fmt.Sprintf("node: %d %s: %s", e.Status, e.Body.Code, e.Body.Error)
	}
	return fmt.Sprintf("node: %d: %s", e.Status, e.Body.Error)
}

// Client talks to a settlement node's HTTP API on behalf of a publisher.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	nonce      func() uint64
}

// NewClient creates a node client. timeout bounds each request.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
		nonce:      func() uint64 { return uint64(time.Now().UnixNano()) },
	}
}

// WithHTTPClient replaces the transport, e.g. for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Feed fetches a feed's current state and history.
func (c *Client) Feed(ctx context.Context, key domain.FeedKey) (api.FeedView, error) {
	var out api.FeedView
	path := "/api/feeds/" + url.PathEscape(key.League.String()) + "/" + url.PathEscape(key.GameID.String())
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return api.FeedView{}, fmt.Errorf("oracle: get feed %s: %w", key, err)
	}
	return out, nil
}

// InitFeed creates a feed signed by s.
func (c *Client) InitFeed(ctx context.Context, s RequestSigner, key domain.FeedKey) (api.FeedView, error) {
	var out api.FeedView
	if err := submit(ctx, c, s, "/api/feeds", domain.InitFeedRequest{Feed: key}, &out); err != nil {
		return api.FeedView{}, fmt.Errorf("oracle: init feed %s: %w", key, err)
	}
	return out, nil
}

// SubmitUpdate publishes u to the feed, signed by s.
func (c *Client) SubmitUpdate(ctx context.Context, s RequestSigner, key domain.FeedKey, u domain.FeedUpdate) (api.FeedView, error) {
	var out api.FeedView
	req := domain.SubmitUpdateRequest{Feed: key, Update: u}
	if err := submit(ctx, c, s, "/api/feeds/updates", req, &out); err != nil {
		return api.FeedView{}, fmt.Errorf("oracle: submit update %s: %w", key, err)
	}
	return out, nil
}

// Pin asks the node to store a payload under its content identifier.
func (c *Client) Pin(ctx context.Context, payload []byte) (api.PinResult, error) {
	var out api.PinResult
	if err := c.do(ctx, http.MethodPost, "/api/payloads", json.RawMessage(payload), &out); err != nil {
		return api.PinResult{}, fmt.Errorf("oracle: pin payload: %w", err)
	}
	return out, nil
}

func submit[T domain.Request](ctx context.Context, c *Client, s RequestSigner, path string, req T, out any) error {
	cred, err := s.SignRequest(req, c.nonce())
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, api.Envelope[T]{Credentials: cred, Request: req}, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, &apiErr.Body) != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsCode reports whether err is a node error with the given error code, such
// as "StaleData".
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Body.Code == code
}
