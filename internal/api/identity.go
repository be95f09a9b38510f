package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"arena-backend/internal/config"
	"arena-backend/internal/constants"

	"github.com/coocood/freecache"
	json "github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// identityCacheSize bounds the in-process token cache (bytes).
const identityCacheSize = 8 * 1024 * 1024

// Identity is the principal behind a bearer token.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type IdentityClient struct {
	baseURL     string
	client      *fasthttp.Client
	cache       *freecache.Cache
	cacheTTL    time.Duration
	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     int       `json:"reset"` // seconds until reset
	UpdatedAt time.Time `json:"updated_at"`
}

func NewIdentityClient(cfg *config.Config) *IdentityClient {
	return newIdentityClient(cfg.IdentityURL, &fasthttp.Client{
		MaxConnsPerHost:     100,
		ReadTimeout:         constants.IdentityAPITimeout,
		WriteTimeout:        constants.IdentityAPITimeout,
		MaxIdleConnDuration: 1 * time.Minute,
	})
}

func newIdentityClient(baseURL string, client *fasthttp.Client) *IdentityClient {
	return &IdentityClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		cache:    freecache.NewCache(identityCacheSize),
		cacheTTL: constants.IdentityCacheTTL,
	}
}

func (c *IdentityClient) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *IdentityClient) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if limit := string(resp.Header.Peek("X-Ratelimit-Limit")); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}
	if remaining := string(resp.Header.Peek("X-Ratelimit-Remaining")); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}
	if reset := string(resp.Header.Peek("X-Ratelimit-Reset")); reset != "" {
		if val, err := strconv.Atoi(reset); err == nil {
			c.rateLimit.Reset = val
		}
	}
	c.rateLimit.UpdatedAt = time.Now()
}

// Identify resolves a bearer token. Successful lookups are cached for a few minutes.
func (c *IdentityClient) Identify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	key := []byte(token)
	if cached, err := c.cache.Get(key); err == nil {
		var id Identity
		if err := json.Unmarshal(cached, &id); err == nil {
			return &id, nil
		}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + "/v1/identity")
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+token)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(constants.IdentityAPITimeout)
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("identity request failed: %w", err)
	}

	c.updateRateLimit(resp)

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusUnauthorized, fasthttp.StatusForbidden, fasthttp.StatusNotFound:
		return nil, ErrUnauthenticated
	default:
		return nil, fmt.Errorf("identity API error: %d", resp.StatusCode())
	}

	var id Identity
	if err := json.Unmarshal(resp.Body(), &id); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}
	if id.ID == "" {
		return nil, ErrUnauthenticated
	}

	if raw, err := json.Marshal(id); err == nil {
		_ = c.cache.Set(key, raw, int(c.cacheTTL.Seconds()))
	}
	return &id, nil
}
