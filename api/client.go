// Package api is the REST client for the marketplace backend.
//
// Every call collapses transport failures, non-2xx responses and malformed
// bodies into one *RequestError carrying the server's message, if any.
// Nothing is retried.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds one request when Options.Timeout is unset.
	DefaultTimeout = 15 * time.Second
	// RequestIDHeader carries a per-request correlation ID.
	RequestIDHeader = "X-Request-ID"
	// ClientIDHeader identifies the installation issuing requests.
	ClientIDHeader = "X-Client-ID"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	ClientID   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the backend REST API on behalf of one signed-in user.
type Client struct {
	http     *resty.Client
	logger   *zap.Logger
	clientID string

	tokenMu sync.RWMutex
	token   string
}

// New creates a client for the backend rooted at BaseURL.
func New(options Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}

	var rc *resty.Client
	if options.HTTPClient != nil {
		rc = resty.NewWithClient(options.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(baseURL).
		SetTimeout(options.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:     rc,
		logger:   options.Logger,
		clientID: options.ClientID,
		token:    options.Token,
	}, nil
}

// BaseURL returns the backend root this client talks to.
func (c *Client) BaseURL() string {
	return c.http.BaseURL
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// WithToken returns a client sharing the transport but authenticating as token.
func (c *Client) WithToken(token string) *Client {
	return &Client{
		http:     c.http,
		logger:   c.logger,
		clientID: c.clientID,
		token:    token,
	}
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type call struct {
	op     string
	method string
	path   string
	query  map[string]string
	body   any
	// bare responses are not wrapped in the {message, data} envelope.
	bare bool
}

// do executes one call and decodes the response data into out (which may be nil).
func (c *Client) do(ctx context.Context, def call, out any) error {
	requestID := uuid.NewString()
	req := c.http.R().
		SetContext(ctx).
		SetHeader(RequestIDHeader, requestID)
	if c.clientID != "" {
		req.SetHeader(ClientIDHeader, c.clientID)
	}
	if token := c.Token(); token != "" {
		req.SetAuthToken(token)
	}
	if len(def.query) > 0 {
		req.SetQueryParams(def.query)
	}
	if def.body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(def.body)
	}

	started := time.Now()
	resp, err := req.Execute(def.method, def.path)
	if err != nil {
		c.logger.Debug("backend request failed",
			zap.String("op", def.op),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return &RequestError{Op: def.op, Err: err}
	}

	c.logger.Debug("backend request",
		zap.String("op", def.op),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(started)),
	)

	raw := resp.Body()
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return &RequestError{
			Op:         def.op,
			StatusCode: resp.StatusCode(),
			Message:    serverMessage(raw),
		}
	}

	if out == nil {
		return nil
	}

	data := json.RawMessage(raw)
	if !def.bare {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return &RequestError{Op: def.op, StatusCode: resp.StatusCode(), Err: fmt.Errorf("decode envelope: %w", err)}
		}
		data = env.Data
	}
	if len(data) == 0 || string(data) == "null" {
		return &RequestError{Op: def.op, StatusCode: resp.StatusCode(), Err: ErrMissingData}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &RequestError{Op: def.op, StatusCode: resp.StatusCode(), Err: fmt.Errorf("decode data: %w", err)}
	}

	return nil
}

func serverMessage(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(env.Message); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(env.Error); msg != "" {
		return msg
	}
	return ""
}
