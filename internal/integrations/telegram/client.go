package telegram

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
	"sync"
	"time"

	"group-adder/internal/integrations/paramstore"
)

const (
	defaultBaseURL   = "https://api.telegram.org"
	defaultTimeout   = 60 * time.Second
	maxResponseBytes = 1 << 20
	maxFileBytes     = 20 << 20
	redactedToken    = "<redacted>"
)

// APIError is a failed Bot API call. The description is the platform's own text
// and is what outcome classification matches on.
type APIError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed (%d): %s", e.Method, e.HTTPStatusCode(), e.Description)
}

// HTTPStatusCode prefers the API error code, which mirrors HTTP semantics.
func (e *APIError) HTTPStatusCode() int {
	if e.ErrorCode != 0 {
		return e.ErrorCode
	}
	return e.StatusCode
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Client is a focused Bot API client. The bot token is read from the parameter
// store on first use and reused for the lifetime of the process.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string

	tokenOnce sync.Once
	token     string
	tokenErr  error

	selfMu sync.Mutex
	self   *User
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("telegram: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("telegram: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/bot-token"
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		c.token, c.tokenErr = paramstore.LoadToken(ctx, c.getter, c.tokenParameterName())
	})
	return c.token, c.tokenErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func base(baseURL string) string {
	b := strings.TrimRight(baseURL, "/")
	if b == "" {
		return defaultBaseURL
	}
	return b
}

func methodURL(baseURL, token, method string) string {
	return base(baseURL) + "/bot" + token + "/" + method
}

func fileURL(baseURL, token, filePath string) string {
	return base(baseURL) + "/file/bot" + token + "/" + strings.TrimLeft(filePath, "/")
}

// call POSTs params as JSON to method and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return fmt.Errorf("telegram: resolve token: %w", err)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, methodURL(c.baseURL, token, method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create %s request: %w", method, redact(err, c.baseURL, method))
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s request failed: %w", method, redact(err, c.baseURL, method))
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}

	var env envelope
	if decErr := json.Unmarshal(buf, &env); decErr != nil {
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return &APIError{Method: method, StatusCode: res.StatusCode, Description: strings.TrimSpace(string(buf[:min(len(buf), 512)]))}
		}
		return fmt.Errorf("telegram: decode %s response: %w", method, decErr)
	}
	if !env.OK {
		apiErr := &APIError{
			Method:      method,
			StatusCode:  res.StatusCode,
			ErrorCode:   env.ErrorCode,
			Description: env.Description,
		}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram: decode %s result: %w", method, err)
	}
	return nil
}

// download fetches a file body by its Bot API file path.
func (c *Client) download(ctx context.Context, filePath string) ([]byte, error) {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("telegram: resolve token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL(c.baseURL, token, filePath), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create download request: %w", redact(err, c.baseURL, "file"))
	}
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download failed: %w", redact(err, c.baseURL, "file"))
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &APIError{Method: "download", StatusCode: res.StatusCode, Description: http.StatusText(res.StatusCode)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("telegram: read file: %w", err)
	}
	if len(buf) > maxFileBytes {
		return nil, errors.New("telegram: file exceeds 20MB")
	}
	return buf, nil
}

// redact strips the bot token from URLs embedded in transport errors.
func redact(err error, baseURL, method string) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = methodURL(baseURL, redactedToken, method)
	}
	return err
}
