package revocation

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// FetcherConfig configures HTTP retrieval of OCSP responses and CRLs.
type FetcherConfig struct {
	// Timeout bounds one HTTP request.
	Timeout time.Duration
	// MaxResponseSize is the maximum response body accepted, in bytes.
	MaxResponseSize int64
	UserAgent       string
	UseCache        bool
	CacheTTL        time.Duration
	Retry           *RetryConfig
	// Clock drives cache expiry and retry delays.
	Clock clockwork.Clock
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() *FetcherConfig {
	return &FetcherConfig{
		Timeout:         10 * time.Second,
		MaxResponseSize: 10 * 1024 * 1024,
		UserAgent:       "sealtrust/1.0",
		UseCache:        true,
		CacheTTL:        time.Hour,
		Retry:           DefaultRetryConfig(),
	}
}

// Fetcher retrieves revocation data over HTTP.
type Fetcher struct {
	config *FetcherConfig
	client *http.Client
	clock  clockwork.Clock
	cache  *responseCache
}

// NewFetcher creates a fetcher. A nil config uses DefaultConfig and a nil
// client gets one with the configured timeout.
func NewFetcher(config *FetcherConfig, client *http.Client) *Fetcher {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = defaults.MaxResponseSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	config = &cfg
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &Fetcher{
		config: config,
		client: client,
		clock:  clock,
		cache:  newResponseCache(clock, config.CacheTTL),
	}
}

type responseCache struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

func newResponseCache(clock clockwork.Clock, ttl time.Duration) *responseCache {
	return &responseCache{clock: clock, ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *responseCache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !c.clock.Now().Before(e.expiresAt) {
		return nil, false
	}
	return e.data, true
}

func (c *responseCache) set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{data: data, expiresAt: c.clock.Now().Add(c.ttl)}
}

// ClearCache drops every cached response.
func (f *Fetcher) ClearCache() {
	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	f.cache.entries = make(map[string]cacheEntry)
}

// Fetch GETs urlStr, using the cache and retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) ([]byte, error) {
	if err := checkURL(urlStr); err != nil {
		return nil, err
	}
	return f.cached(urlStr, func() ([]byte, error) {
		return retry(ctx, f.clock, f.config.Retry, func(ctx context.Context) ([]byte, error) {
			return f.do(ctx, http.MethodGet, urlStr, nil, "")
		})
	})
}

// FetchOCSP sends an OCSP request to a responder, POST first with a GET
// fallback, and returns the raw response.
func (f *Fetcher) FetchOCSP(ctx context.Context, serverURL string, request []byte) ([]byte, error) {
	if err := checkURL(serverURL); err != nil {
		return nil, err
	}
	key := "ocsp|" + serverURL + "|" + base64.StdEncoding.EncodeToString(request)
	return f.cached(key, func() ([]byte, error) {
		return retry(ctx, f.clock, f.config.Retry, func(ctx context.Context) ([]byte, error) {
			data, err := f.do(ctx, http.MethodPost, serverURL, request, "application/ocsp-request")
			if err == nil {
				return data, nil
			}
			getURL := strings.TrimSuffix(serverURL, "/") + "/" + url.PathEscape(base64.StdEncoding.EncodeToString(request))
			data, getErr := f.do(ctx, http.MethodGet, getURL, nil, "")
			if getErr != nil {
				return nil, fmt.Errorf("POST: %v; GET: %w", err, getErr)
			}
			return data, nil
		})
	})
}

func (f *Fetcher) cached(key string, fetch func() ([]byte, error)) ([]byte, error) {
	if f.config.UseCache {
		if data, ok := f.cache.get(key); ok {
			return data, nil
		}
	}
	data, err := fetch()
	if err != nil {
		return nil, err
	}
	if f.config.UseCache {
		f.cache.set(key, data)
	}
	return data, nil
}

func (f *Fetcher) do(ctx context.Context, method, urlStr string, body []byte, contentType string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return nil, permanent(fmt.Errorf("%w: %v", ErrFetchFailed, err))
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: HTTP %d", ErrFetchFailed, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, permanent(err)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if int64(len(data)) > f.config.MaxResponseSize {
		return nil, permanent(fmt.Errorf("%w: more than %d bytes from %s", ErrResponseTooLarge, f.config.MaxResponseSize, urlStr))
	}
	return data, nil
}

func checkURL(urlStr string) error {
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrFetchFailed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme: %s", ErrFetchFailed, u.Scheme)
	}
	return nil
}
