// Package panos is a client for the PAN-OS XML API. It covers the calls the
// upgrade workflow needs: system and HA state, the software catalog,
// download and install, HA suspend, reboot and operational snapshots.
package panos

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrProtocol is returned when the device answers with a non-success status
// or a response that cannot be decoded.
var ErrProtocol = errors.New("pan-os api error")

// ErrAuth is returned when neither an API key nor a username and password
// are available.
var ErrAuth = errors.New("pan-os credentials missing")

const maxBody = 8 << 20

// Credentials authenticate against the XML API. APIKey wins when set;
// otherwise a key is generated from Username and Password on first use.
type Credentials struct {
	Username string
	Password string //nolint:gosec // G101: field name, not a credential
	APIKey   string //nolint:gosec // G101: field name, not a credential
}

// Client talks to one firewall, either directly or through Panorama.
type Client struct {
	baseURL string
	target  string // device serial when proxied through Panorama
	creds   Credentials

	mu     sync.Mutex
	apiKey string

	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTarget routes every call to the firewall with the given serial through
// the Panorama at the client's base URL.
func WithTarget(serial string) Option {
	return func(c *Client) { c.target = serial }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter bounds the request rate. Limiters may be shared between
// clients that reach the same management address.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithTimeout bounds every individual API call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for the management address addr. addr may be a
// bare host (https is assumed) or a full URL.
func NewClient(addr string, creds Credentials, opts ...Option) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	c := &Client{
		baseURL: strings.TrimRight(base, "/"),
		creds:   creds,
		apiKey:  creds.APIKey,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
					//nolint:gosec // G402: firewalls ship with self-signed management certificates.
					InsecureSkipVerify: true,
				},
			},
		},
		limiter: rate.NewLimiter(rate.Inf, 1),
		timeout: 60 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// envelope is the outer <response> element shared by every API answer.
type envelope struct {
	XMLName xml.Name `xml:"response"`
	Status  string   `xml:"status,attr"`
	Code    string   `xml:"code,attr"`
	Msg     message  `xml:"msg"`
	Result  struct {
		Inner []byte  `xml:",innerxml"`
		Msg   message `xml:"msg"`
	} `xml:"result"`
}

// message captures both <msg>text</msg> and <msg><line>..</line></msg>.
type message struct {
	Text  string   `xml:",chardata"`
	Lines []string `xml:"line"`
}

func (m message) String() string {
	parts := make([]string, 0, len(m.Lines)+1)
	if t := strings.TrimSpace(m.Text); t != "" {
		parts = append(parts, t)
	}
	for _, l := range m.Lines {
		if t := strings.TrimSpace(l); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "; ")
}

// op runs an operational command and decodes <result> into out (if non-nil).
func (c *Client) op(ctx context.Context, cmd string, out any) error {
	key, err := c.key(ctx)
	if err != nil {
		return err
	}
	params := url.Values{"type": {"op"}, "cmd": {cmd}}
	if c.target != "" {
		params.Set("target", c.target)
	}
	return c.call(ctx, params, key, out)
}

// key returns the API key, generating one from username and password the
// first time it is needed.
func (c *Client) key(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	if c.creds.Username == "" || c.creds.Password == "" {
		return "", ErrAuth
	}

	var res struct {
		Key string `xml:"key"`
	}
	params := url.Values{"type": {"keygen"}, "user": {c.creds.Username}, "password": {c.creds.Password}}
	if err := c.call(ctx, params, "", &res); err != nil {
		return "", fmt.Errorf("keygen: %w", err)
	}
	if res.Key == "" {
		return "", fmt.Errorf("%w: keygen returned an empty key", ErrProtocol)
	}
	c.apiKey = res.Key
	return c.apiKey, nil
}

// call posts params to /api/ and checks the response envelope.
func (c *Client) call(ctx context.Context, params url.Values, key string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/",
		strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if key != "" {
		req.Header.Set("X-PAN-KEY", key)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	c.logger.Debug("xml api call",
		zap.String("type", params.Get("type")),
		zap.Int("http_status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	var env envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: http %d", ErrProtocol, resp.StatusCode)
		}
		return fmt.Errorf("%w: decode response: %v", ErrProtocol, err)
	}
	if env.Status != "success" {
		msg := env.Msg.String()
		if msg == "" {
			msg = env.Result.Msg.String()
		}
		if msg == "" {
			msg = "status " + env.Status
		}
		return fmt.Errorf("%w: %s", ErrProtocol, msg)
	}
	if out == nil {
		return nil
	}

	inner := make([]byte, 0, len(env.Result.Inner)+17)
	inner = append(inner, "<result>"...)
	inner = append(inner, env.Result.Inner...)
	inner = append(inner, "</result>"...)
	if err := xml.Unmarshal(inner, out); err != nil {
		return fmt.Errorf("%w: decode result: %v", ErrProtocol, err)
	}
	return nil
}
