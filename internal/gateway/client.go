package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/solventry/paysdk/internal/config"
	"github.com/solventry/paysdk/internal/sdkerrors"
)

// Transport is the subset of the gateway client the flow controllers need.
// Paths are relative to the client API base URL established after the
// configuration fetch.
type Transport interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Post(ctx context.Context, path string, body []byte) ([]byte, error)
}

// Client talks HTTP to the gateway. Transport failures are returned as
// *sdkerrors.TransportError; HTTP-level failures are mapped to the error
// taxonomy by status code. A 422 is returned as *sdkerrors.ErrorWithResponse
// so callers can treat it as a recoverable validation failure.
type Client struct {
	mu      sync.RWMutex
	baseURL string

	authFingerprint string
	clientKey       string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewClient(cfg config.HTTPConfig, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// SetBaseURL installs the client API URL from the fetched configuration.
// Requests against relative paths fail until this is called.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimSuffix(baseURL, "/")
}

// SetAuthorizationFingerprint attaches a client-token fingerprint to every
// request as the authorizationFingerprint query parameter.
func (c *Client) SetAuthorizationFingerprint(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authFingerprint = fingerprint
}

// SetClientKey attaches a tokenization key to every request via the
// Client-Key header.
func (c *Client) SetClientKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientKey = key
}

// UsesClientKey reports whether requests authenticate with a tokenization
// key rather than a client-token fingerprint. Some operations are not
// permitted under key authorization.
func (c *Client) UsesClientKey() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientKey != ""
}

func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	u, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodGet, u, nil)
}

func (c *Client) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	u, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, u, body)
}

// GetURL performs a GET against an absolute URL, used for the configuration
// endpoint which is known before any base URL exists.
func (c *Client) GetURL(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil)
}

// PostURL performs a POST against an absolute URL, used for the analytics
// endpoint.
func (c *Client) PostURL(ctx context.Context, rawURL string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, rawURL, body)
}

func (c *Client) resolve(path string) (string, error) {
	c.mu.RLock()
	base := c.baseURL
	c.mu.RUnlock()

	if base == "" {
		return "", sdkerrors.NewConfigurationError("gateway base URL is not set; configuration has not been fetched")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	c.mu.RLock()
	fingerprint := c.authFingerprint
	clientKey := c.clientKey
	c.mu.RUnlock()

	if fingerprint != "" {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, sdkerrors.NewTransportError(err)
		}
		q := u.Query()
		q.Set("authorizationFingerprint", fingerprint)
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, sdkerrors.NewTransportError(err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if clientKey != "" {
		req.Header.Set("Client-Key", clientKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, sdkerrors.NewTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, sdkerrors.NewTransportError(err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	c.logger.Debug("gateway request failed",
		"method", method,
		"status", resp.StatusCode,
	)
	return nil, statusError(resp.StatusCode, respBody)
}

// statusError maps a non-2xx gateway response onto the error taxonomy.
func statusError(statusCode int, body []byte) error {
	switch {
	case statusCode == http.StatusUnprocessableEntity:
		return sdkerrors.ParseErrorResponse(statusCode, body)
	case statusCode == http.StatusUnauthorized:
		return sdkerrors.NewAuthorizationError("Authentication failed. Verify your client token or client key.")
	case statusCode == http.StatusForbidden:
		return sdkerrors.NewAuthorizationError("Current authorization does not permit this operation")
	case statusCode >= 500:
		return &sdkerrors.ServerError{
			Message:    "Gateway request failed",
			StatusCode: statusCode,
		}
	default:
		return sdkerrors.NewUnexpectedError(
			"Unexpected response from gateway",
			&sdkerrors.ServerError{Message: string(body), StatusCode: statusCode},
		)
	}
}
