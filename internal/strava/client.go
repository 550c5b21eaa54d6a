// Package strava wraps all network interaction with the upstream fitness API:
// token grants, paginated activity listing with rate-limit pacing, single
// activity fetches, and push-subscription management.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"example.com/stravasync/internal/domain"
	"example.com/stravasync/internal/secrets"
)

const maxPageSize = 200

// Config carries client tunables. Zero values fall back to safe defaults.
type Config struct {
	BaseURL       string
	PageSize      int
	MaxRequests   int           // Request budget per rolling Cooldown window.
	Cooldown      time.Duration // Sleep applied when the API returns 429.
	MaxRetries429 int           // Bounded retries of one page after 429s.
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://www.strava.com"
	}
	if c.PageSize <= 0 || c.PageSize > maxPageSize {
		c.PageSize = maxPageSize
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = 100
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 15 * time.Minute
	}
	if c.MaxRetries429 <= 0 {
		c.MaxRetries429 = 4
	}
}

// SleepFunc pauses for d or returns early with the context's error.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option configures optional behaviour for the Client.
type Option func(*Client)

// WithLogger overrides the logger used to report request failures.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSleep overrides the cooldown sleep, letting tests run without real waits.
func WithSleep(sleep SleepFunc) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithLimiter overrides the request-budget limiter.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// Client talks to the upstream API. API credentials are resolved lazily from
// the secret store so cold starts without Strava traffic never fetch them.
type Client struct {
	http       *http.Client
	secrets    secrets.Store
	secretName string
	cfg        Config
	limiter    *rate.Limiter
	sleep      SleepFunc
	logger     *log.Logger
}

// NewClient constructs a Client. The limiter spreads the configured request
// budget over the cooldown window with a full-budget burst, so short syncs run
// unthrottled and long ones stay under the rolling limit.
func NewClient(httpClient *http.Client, store secrets.Store, secretName string, cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	c := &Client{
		http:       httpClient,
		secrets:    store,
		secretName: secretName,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Every(cfg.Cooldown/time.Duration(cfg.MaxRequests)), cfg.MaxRequests),
		sleep:      sleepContext,
		logger:     log.New(log.Writer(), "[strava] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) apiKeys(ctx context.Context) (clientID, clientSecret string, err error) {
	values, err := c.secrets.Get(ctx, c.secretName)
	if err != nil {
		return "", "", err
	}
	clientID = values["STRAVA_CLIENT_ID"]
	clientSecret = values["STRAVA_CLIENT_SECRET"]
	if clientID == "" || clientSecret == "" {
		return "", "", fmt.Errorf("secret %q missing STRAVA_CLIENT_ID or STRAVA_CLIENT_SECRET", c.secretName)
	}
	return clientID, clientSecret, nil
}

type tokenResponse struct {
	domain.TokenBundle
	Athlete *Athlete `json:"athlete"`
}

// ExchangeAuthCode posts an authorization-code grant. A response without an
// access token or athlete document is treated as a failed exchange.
func (c *Client) ExchangeAuthCode(ctx context.Context, code string) (domain.TokenBundle, *Athlete, error) {
	clientID, clientSecret, err := c.apiKeys(ctx)
	if err != nil {
		return domain.TokenBundle{}, nil, fmt.Errorf("%w: %v", ErrAuthExchange, err)
	}

	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
	}

	var parsed tokenResponse
	if err := c.postForm(ctx, "/oauth/token", form, &parsed); err != nil {
		recordCall("oauth_token", "error")
		return domain.TokenBundle{}, nil, fmt.Errorf("%w: %v", ErrAuthExchange, err)
	}
	if parsed.AccessToken == "" || parsed.Athlete == nil || parsed.Athlete.ID == 0 {
		recordCall("oauth_token", "error")
		return domain.TokenBundle{}, nil, fmt.Errorf("%w: response missing access token or athlete", ErrAuthExchange)
	}

	recordCall("oauth_token", "success")
	return parsed.TokenBundle, parsed.Athlete, nil
}

// Refresh posts a refresh-token grant and returns the new bundle.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (domain.TokenBundle, error) {
	clientID, clientSecret, err := c.apiKeys(ctx)
	if err != nil {
		return domain.TokenBundle{}, fmt.Errorf("%w: %v", ErrAuthExchange, err)
	}

	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	var parsed tokenResponse
	if err := c.postForm(ctx, "/oauth/token", form, &parsed); err != nil {
		recordCall("oauth_token", "error")
		return domain.TokenBundle{}, fmt.Errorf("%w: %v", ErrAuthExchange, err)
	}
	if parsed.AccessToken == "" {
		recordCall("oauth_token", "error")
		return domain.TokenBundle{}, fmt.Errorf("%w: refresh response missing access token", ErrAuthExchange)
	}

	recordCall("oauth_token", "success")
	return parsed.TokenBundle, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body))
	}
	return json.Unmarshal(body, out)
}

// ListActivities fetches the full result set for the window, walking pages
// until one comes back empty. A 429 costs a cooldown and a retry of the same
// page (bounded); other HTTP errors stop the walk and return what accumulated.
// Only transport-level failures surface as errors.
func (c *Client) ListActivities(ctx context.Context, accessToken string, opts ListOptions) ([]json.RawMessage, error) {
	perPage := opts.PerPage
	if perPage <= 0 || perPage > maxPageSize {
		perPage = c.cfg.PageSize
	}

	all := make([]json.RawMessage, 0, perPage)
	page := 1
	retries := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return all, err
		}

		query := url.Values{
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(perPage)},
		}
		if opts.After != nil {
			query.Set("after", strconv.FormatInt(*opts.After, 10))
		}
		if opts.Before != nil {
			query.Set("before", strconv.FormatInt(*opts.Before, 10))
		}

		resp, body, err := c.get(ctx, accessToken, "/api/v3/athlete/activities?"+query.Encode())
		if err != nil {
			recordCall("athlete_activities", "error")
			return all, fmt.Errorf("%w: %v", ErrActivityFetch, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			recordCall("athlete_activities", "rate_limited")
			retries++
			if retries > c.cfg.MaxRetries429 {
				c.logger.Printf("rate limit retries exhausted on page %d, returning %d activities", page, len(all))
				return all, nil
			}
			c.logger.Printf("rate limit hit on page %d, cooling down for %s", page, c.cfg.Cooldown)
			recordCooldown()
			if err := c.sleep(ctx, c.cfg.Cooldown); err != nil {
				return all, err
			}
			continue // retry the same page
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			recordCall("athlete_activities", "error")
			c.logger.Printf("activity listing failed on page %d: status %d: %s", page, resp.StatusCode, truncate(body))
			return all, nil
		}

		var activities []json.RawMessage
		if err := json.Unmarshal(body, &activities); err != nil {
			recordCall("athlete_activities", "error")
			c.logger.Printf("activity listing returned undecodable page %d: %v", page, err)
			return all, nil
		}

		recordCall("athlete_activities", "success")
		if len(activities) == 0 {
			return all, nil
		}

		all = append(all, activities...)
		page++
		retries = 0
	}
}

// FetchActivity retrieves one activity with full detail. A 404 yields
// (nil, nil); any other HTTP error is logged and yields (nil, nil) as well.
func (c *Client) FetchActivity(ctx context.Context, accessToken string, activityID int64) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, body, err := c.get(ctx, accessToken, "/api/v3/activities/"+strconv.FormatInt(activityID, 10))
	if err != nil {
		recordCall("activity_detail", "error")
		return nil, fmt.Errorf("%w: %v", ErrActivityFetch, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		recordCall("activity_detail", "success")
		return json.RawMessage(body), nil
	case resp.StatusCode == http.StatusNotFound:
		recordCall("activity_detail", "not_found")
		c.logger.Printf("activity %d not found upstream", activityID)
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized:
		recordCall("activity_detail", "unauthorized")
		c.logger.Printf("unauthorized fetching activity %d, access token likely stale", activityID)
		return nil, nil
	default:
		recordCall("activity_detail", "error")
		c.logger.Printf("fetching activity %d failed: status %d: %s", activityID, resp.StatusCode, truncate(body))
		return nil, nil
	}
}

func (c *Client) get(ctx context.Context, accessToken, path string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
