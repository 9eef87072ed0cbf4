package perception

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/okralabs/uiheal/uimap"
)

// maxResponseBytes caps how much of a parse response is read. UIMaps are
// tens of kilobytes; anything near the cap is a broken service.
const maxResponseBytes = 10 << 20

// defaultCacheSize bounds the UIMap cache. Vision inference is the
// expensive hop in every step, and identical frames are common between
// retries, so parsed maps are cached by screenshot hash.
const defaultCacheSize = 128

// ParseMeta is optional request context forwarded to the service for its
// own logging.
type ParseMeta struct {
	TestID   string `json:"test_id,omitempty"`
	Env      string `json:"env,omitempty"`
	StepName string `json:"step_name,omitempty"`
}

type parseRequest struct {
	ImageBase64 string     `json:"image_base64"`
	Metadata    *ParseMeta `json:"metadata,omitempty"`
}

// HealthStatus is the service health report.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Parser  string `json:"parser"`
}

// Client calls the perception HTTP service.
type Client struct {
	baseURL string
	client  *http.Client
	cache   *lru.Cache[string, *uimap.UIMap]
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Client) { p.client = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Client) { p.logger = l }
}

// WithCacheSize sets the UIMap cache capacity. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(p *Client) {
		if n <= 0 {
			p.cache = nil
			return
		}
		cache, _ := lru.New[string, *uimap.UIMap](n)
		p.cache = cache
	}
}

// NewClient creates a Client for the perception service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	cache, _ := lru.New[string, *uimap.UIMap](defaultCacheSize)
	c := &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		cache:   cache,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Parse submits a screenshot and returns the parsed UIMap. Identical
// screenshots (by SHA-256) are served from cache without touching the
// service. The returned map is shared and must be treated as immutable.
func (c *Client) Parse(ctx context.Context, image []byte, meta *ParseMeta) (*uimap.UIMap, error) {
	hash := uimap.ScreenHash(image)
	if c.cache != nil {
		if m, ok := c.cache.Get(hash); ok {
			c.logger.Debug("perception: cache hit", "hash", hash)
			return m, nil
		}
	}

	body, err := json.Marshal(parseRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		Metadata:    meta,
	})
	if err != nil {
		return nil, fmt.Errorf("perception: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("perception: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perception: do: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("perception: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("perception: parse returned %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var m uimap.UIMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("perception: decode uimap: %w", err)
	}
	if err := m.Validate(); err != nil {
		// Malformed maps still flow to the core, which fails closed on
		// them; surface the anomaly in logs only.
		c.logger.Warn("perception: uimap failed validation", "error", err)
	}

	if c.cache != nil {
		c.cache.Add(hash, &m)
	}

	c.logger.Debug("perception: parsed screenshot",
		"hash", hash, "elements", len(m.Elements),
		"screen", fmt.Sprintf("%dx%d", m.Screen.Width, m.Screen.Height))
	return &m, nil
}

// Health checks the perception service.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("perception: new request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perception: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("perception: health returned %d", resp.StatusCode)
	}

	var hs HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return nil, fmt.Errorf("perception: decode health: %w", err)
	}
	return &hs, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
