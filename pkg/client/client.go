package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client talks to a running sessionkeeper daemon over its HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ServerName string // Server name for verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 30 * time.Second,
	}
}

// New creates a new API client.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	_, err := c.call(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Running lists live sessions.
func (c *Client) Running(ctx context.Context) ([]RunningSession, error) {
	var out []RunningSession
	_, err := c.call(ctx, http.MethodGet, "/sessions", nil, &out)
	return out, err
}

// Create opens a new instance and returns its id.
func (c *Client) Create(ctx context.Context, req CreateRequest) (int64, error) {
	c.logger.Debug("Creating session", "url", req.URL)
	res, err := c.call(ctx, http.MethodPost, "/sessions", req, nil)
	if err != nil {
		return 0, err
	}
	return res.InstanceID, nil
}

// Close ends the session of id. reason may be empty for a manual close.
func (c *Client) Close(ctx context.Context, id int64, reason string) (Result, error) {
	p := sessionPath(id, "close")
	if reason != "" {
		p += "?reason=" + url.QueryEscape(reason)
	}
	return c.call(ctx, http.MethodPost, p, nil, nil)
}

// Restart reopens a stored instance. Restarting a running instance is not
// an error; the result message says so.
func (c *Client) Restart(ctx context.Context, id int64) (Result, error) {
	return c.call(ctx, http.MethodPost, instancePath(id, "restart"), nil, nil)
}

func (c *Client) Navigate(ctx context.Context, id int64, target string) error {
	_, err := c.call(ctx, http.MethodPost, sessionPath(id, "navigate"), map[string]string{"url": target}, nil)
	return err
}

func (c *Client) Refresh(ctx context.Context, id int64) error {
	_, err := c.call(ctx, http.MethodPost, sessionPath(id, "refresh"), nil, nil)
	return err
}

func (c *Client) Content(ctx context.Context, id int64) (Content, error) {
	var out Content
	_, err := c.call(ctx, http.MethodGet, sessionPath(id, "content"), nil, &out)
	return out, err
}

func (c *Client) Cookies(ctx context.Context, id int64) ([]Cookie, error) {
	var out []Cookie
	_, err := c.call(ctx, http.MethodGet, sessionPath(id, "cookies"), nil, &out)
	return out, err
}

// Screenshot returns the PNG bytes of the current page.
func (c *Client) Screenshot(ctx context.Context, id int64) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+sessionPath(id, "screenshot"), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) Instances(ctx context.Context) ([]Instance, error) {
	var out []Instance
	_, err := c.call(ctx, http.MethodGet, "/instances", nil, &out)
	return out, err
}

// ClosedInstances lists closed instances in rotation order. A limit below 1
// uses the daemon's rotation batch size.
func (c *Client) ClosedInstances(ctx context.Context, limit int) (ClosedInstances, error) {
	var out ClosedInstances
	path := "/instances?closed=true"
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}
	_, err := c.call(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Instance(ctx context.Context, id int64) (Instance, error) {
	var out Instance
	_, err := c.call(ctx, http.MethodGet, instancePath(id, ""), nil, &out)
	return out, err
}

func (c *Client) UpdateInstance(ctx context.Context, id int64, req UpdateRequest) error {
	_, err := c.call(ctx, http.MethodPut, instancePath(id, ""), req, nil)
	return err
}

func (c *Client) DeleteInstance(ctx context.Context, id int64) error {
	_, err := c.call(ctx, http.MethodDelete, instancePath(id, ""), nil, nil)
	return err
}

// Sessions lists the newest session records of id; limit 0 means all.
func (c *Client) Sessions(ctx context.Context, id int64, limit int) ([]SessionRecord, error) {
	p := instancePath(id, "sessions")
	if limit > 0 {
		p += "?limit=" + strconv.Itoa(limit)
	}
	var out []SessionRecord
	_, err := c.call(ctx, http.MethodGet, p, nil, &out)
	return out, err
}

func (c *Client) Groups(ctx context.Context) ([]GroupSummary, error) {
	var out []GroupSummary
	_, err := c.call(ctx, http.MethodGet, "/instances/groups", nil, &out)
	return out, err
}

func (c *Client) Statistics(ctx context.Context) (Statistics, error) {
	var out Statistics
	_, err := c.call(ctx, http.MethodGet, "/statistics", nil, &out)
	return out, err
}

func (c *Client) Rotation(ctx context.Context) (RotationStats, error) {
	var out RotationStats
	_, err := c.call(ctx, http.MethodGet, "/rotation", nil, &out)
	return out, err
}

func sessionPath(id int64, action string) string {
	return "/sessions/" + strconv.FormatInt(id, 10) + "/" + action
}

func instancePath(id int64, action string) string {
	p := "/instances/" + strconv.FormatInt(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 opt-in for self-signed daemons
		return tlsConfig, nil
	}
	if config.TLS.ServerName != "" {
		tlsConfig.ServerName = config.TLS.ServerName
	}
	if config.TLS.CACert != "" {
		if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}

// call sends body as JSON and decodes the envelope's data into out when
// out is non-nil.
func (c *Client) call(ctx context.Context, method, path string, body, out any) (Result, error) {
	var data []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Result{}, fmt.Errorf("marshal request: %w", err)
		}
		data = b
	}
	resp, err := c.do(ctx, method, c.baseURL+path, data)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return Result{}, err
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return env.Result, fmt.Errorf("decode data: %w", err)
		}
	}
	return env.Result, nil
}

// do performs the HTTP request; the caller closes the body.
func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// handleErrorResponse turns non-2xx responses into *APIError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}
