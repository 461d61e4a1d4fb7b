// Package directory is a rate-limited client for the external guild and
// character directory API.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kasuganosora/guildsync/config"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// Client fetches guild and character documents. Every request passes
// through one shared token bucket and is retried on 429, 5xx and
// transport errors. 404 is returned immediately as ErrNotFound.
type Client struct {
	cfg     config.DirectoryConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPClient returns an http.Client tuned for outbound API calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: t}
}

// NewClient builds a Client that authenticates with the OAuth2
// client-credentials flow. Without a ClientID requests are unauthenticated.
func NewClient(cfg config.DirectoryConfig, logger *zap.Logger) *Client {
	hc := NewHTTPClient(cfg.Timeout)
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		hc = cc.Client(ctx)
	}
	return NewClientWithHTTP(cfg, hc, logger)
}

// NewClientWithHTTP builds a Client around an existing http.Client.
func NewClientWithHTTP(cfg config.DirectoryConfig, hc *http.Client, logger *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Locale == "" {
		cfg.Locale = "en_US"
	}
	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// ---- Guild ----

func (c *Client) GetGuildProfile(ctx context.Context, region, realm, name string) (*GuildProfile, error) {
	body, err := c.get(ctx, c.profileURL(region, "/data/wow/guild/%s/%s", Slug(realm), Slug(name)), "guild-profile")
	if err != nil {
		return nil, err
	}
	var out GuildProfile
	if err := decode(body, &out); err != nil {
		return nil, err
	}
	out.Raw = body
	return &out, nil
}

func (c *Client) GetGuildRoster(ctx context.Context, region, realm, name string) (*GuildRoster, error) {
	body, err := c.get(ctx, c.profileURL(region, "/data/wow/guild/%s/%s/roster", Slug(realm), Slug(name)), "guild-roster")
	if err != nil {
		return nil, err
	}
	var out GuildRoster
	if err := decode(body, &out); err != nil {
		return nil, err
	}
	out.Raw = body
	return &out, nil
}

// ---- Character ----

func (c *Client) GetCharacterProfile(ctx context.Context, region, realm, name string) (*CharacterProfile, error) {
	body, err := c.get(ctx, c.characterURL(region, realm, name, ""), "character-profile")
	if err != nil {
		return nil, err
	}
	var out CharacterProfile
	if err := decode(body, &out); err != nil {
		return nil, err
	}
	out.Raw = body
	return &out, nil
}

func (c *Client) GetCharacterEquipment(ctx context.Context, region, realm, name string) (json.RawMessage, error) {
	return c.getRaw(ctx, c.characterURL(region, realm, name, "/equipment"), "character-equipment")
}

func (c *Client) GetCharacterMythicProfile(ctx context.Context, region, realm, name string) (json.RawMessage, error) {
	return c.getRaw(ctx, c.characterURL(region, realm, name, "/mythic-keystone-profile"), "character-mythic")
}

func (c *Client) GetCharacterProfessions(ctx context.Context, region, realm, name string) (json.RawMessage, error) {
	return c.getRaw(ctx, c.characterURL(region, realm, name, "/professions"), "character-professions")
}

func (c *Client) GetCharacterCollectionsIndex(ctx context.Context, region, realm, name string) (*CollectionsIndex, error) {
	body, err := c.get(ctx, c.characterURL(region, realm, name, "/collections"), "character-collections")
	if err != nil {
		return nil, err
	}
	var out CollectionsIndex
	if err := decode(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetGenericData follows a sub-resource href returned by another document.
// jobID only labels log lines.
func (c *Client) GetGenericData(ctx context.Context, href, jobID string) (json.RawMessage, error) {
	u, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("directory: bad href %q: %w", href, err)
	}
	q := u.Query()
	if q.Get("locale") == "" {
		q.Set("locale", c.cfg.Locale)
		u.RawQuery = q.Encode()
	}
	return c.getRaw(ctx, u.String(), jobID)
}

// ---- URL building ----

func (c *Client) baseURL(region string) string {
	return strings.TrimRight(strings.ReplaceAll(c.cfg.BaseURL, "{region}", strings.ToLower(region)), "/")
}

func (c *Client) profileURL(region, format string, args ...string) string {
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(a)
	}
	q := url.Values{}
	q.Set("namespace", "profile-"+strings.ToLower(region))
	q.Set("locale", c.cfg.Locale)
	return c.baseURL(region) + fmt.Sprintf(format, escaped...) + "?" + q.Encode()
}

func (c *Client) characterURL(region, realm, name, suffix string) string {
	return c.profileURL(region, "/profile/wow/character/%s/%s"+suffix, Slug(realm), strings.ToLower(name))
}

// ---- Transport ----

func (c *Client) getRaw(ctx context.Context, u, jobID string) (json.RawMessage, error) {
	body, err := c.get(ctx, u, jobID)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("directory: %s: invalid json", jobID)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, u, jobID string) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, wait, err := c.do(ctx, u)
		if err == nil {
			return body, nil
		}
		if wait < 0 || attempt >= c.cfg.MaxRetries || ctx.Err() != nil {
			return nil, err
		}
		backoff := c.cfg.RetryBackoff << attempt
		if wait > backoff {
			backoff = wait
		}
		c.logger.Warn("directory request retry",
			zap.String("job", jobID),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// do performs one request. A negative wait means the error is final.
func (c *Client) do(ctx context.Context, u string) (json.RawMessage, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, -1, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, 0, err
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return body, 0, nil
	}

	apiErr := &APIError{StatusCode: res.StatusCode, URL: redact(u)}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	apiErr.Body = strings.TrimSpace(string(body))
	if !retryable(res.StatusCode) {
		return nil, -1, apiErr
	}
	return nil, retryAfter(res.Header.Get("Retry-After")), apiErr
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("directory: decode: %w", err)
	}
	return nil
}

func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// redact drops the query string so tokens never reach logs.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
