package xclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/datascout/scout/internal/resilience"
)

const graphqlBase = "https://x.com/i/api/graphql"

// bearerToken is the public web-app bearer; it identifies the web client,
// not the user. User identity comes from the credential cookies.
const bearerToken = "Bearer AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs" +
	"%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

// defaultQueryIDs are the persisted-query hashes extracted from the web
// client. They rotate when the frontend ships; the config can override
// them without a rebuild.
var defaultQueryIDs = map[string]string{
	"UserByScreenName": "xmU6X_CKVnQ5lSrCbAmJsg",
	"UserTweets":       "E3opETHurmVJflFsUBVuUQ",
}

// defaultFeatures must match what the browser sends; a missing flag gets
// a 400 "features cannot be null" back.
var defaultFeatures = map[string]any{
	"rweb_tipjar_consumption_enabled":                                         true,
	"responsive_web_graphql_exclude_directive_enabled":                        true,
	"verified_phone_label_enabled":                                            false,
	"creator_subscriptions_tweet_preview_api_enabled":                         true,
	"responsive_web_graphql_timeline_navigation_enabled":                      true,
	"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
	"communities_web_enable_tweet_community_results_fetch":                    true,
	"c9s_tweet_anatomy_moderator_badge_enabled":                               true,
	"articles_preview_enabled":                                                true,
	"responsive_web_edit_tweet_api_enabled":                                   true,
	"graphql_is_translatable_rweb_tweet_is_translatable_enabled":              true,
	"view_counts_everywhere_api_enabled":                                      true,
	"longform_notetweets_consumption_enabled":                                 true,
	"responsive_web_twitter_article_tweet_consumption_enabled":                true,
	"tweet_awards_web_tipping_enabled":                                        false,
	"creator_subscriptions_quote_tweet_preview_enabled":                       false,
	"freedom_of_speech_not_reach_fetch_enabled":                               true,
	"standardized_nudges_misinfo":                                             true,
	"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
	"rweb_video_timestamps_enabled":                                           true,
	"longform_notetweets_rich_text_read_enabled":                              true,
	"longform_notetweets_inline_media_enabled":                                true,
	"responsive_web_enhance_cards_enabled":                                    false,
	"profile_label_improvements_pcf_label_in_post_enabled":                    false,
	"highlights_tweets_tab_ui_enabled":                                        true,
	"subscriptions_verification_info_is_identity_verified_enabled":            true,
	"subscriptions_verification_info_verified_since_enabled":                  true,
	"hidden_profile_subscriptions_enabled":                                    true,
	"responsive_web_twitter_article_notes_tab_enabled":                        true,
	"subscriptions_feature_can_gift_premium":                                  true,
}

var defaultFieldToggles = map[string]any{
	"withArticlePlainText": false,
}

// RateLimitError carries the platform-requested backoff.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AuthError means the credential is expired or banned; the pool retires it.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "auth failed: " + e.Reason
}

// ClientConfig configures the GraphQL client.
type ClientConfig struct {
	Timeout         time.Duration // default 30s
	MaxRetries      int           // default 3
	BreakerThresh   int           // default 5
	BreakerCooldown time.Duration // default 60s

	// QueryIDs and Features are JSON objects from the config file merged
	// over the built-in defaults.
	QueryIDs string
	Features string

	// BaseURL and HTTPClient exist for tests. When HTTPClient is nil each
	// request builds a browser-impersonating client from a random profile.
	BaseURL    string
	HTTPClient *http.Client
}

// Client issues GraphQL requests with credential rotation, retry and a
// circuit breaker shared across all calls.
type Client struct {
	pool    *Pool
	cfg     ClientConfig
	baseURL string

	queryIDs     map[string]string
	features     map[string]any
	fieldToggles map[string]any

	breaker *resilience.Breaker
	sleep   func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	userIDCache map[string]string
}

// NewClient builds a client over the credential pool.
func NewClient(pool *Pool, cfg ClientConfig) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BreakerThresh <= 0 {
		cfg.BreakerThresh = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 60 * time.Second
	}

	queryIDs := make(map[string]string, len(defaultQueryIDs))
	for k, v := range defaultQueryIDs {
		queryIDs[k] = v
	}
	if cfg.QueryIDs != "" {
		var overrides map[string]string
		if err := json.Unmarshal([]byte(cfg.QueryIDs), &overrides); err != nil {
			return nil, eris.Wrap(err, "xclient: parse query_ids override")
		}
		for k, v := range overrides {
			queryIDs[k] = v
		}
	}

	features := make(map[string]any, len(defaultFeatures))
	for k, v := range defaultFeatures {
		features[k] = v
	}
	if cfg.Features != "" {
		var overrides map[string]any
		if err := json.Unmarshal([]byte(cfg.Features), &overrides); err != nil {
			return nil, eris.Wrap(err, "xclient: parse features override")
		}
		for k, v := range overrides {
			features[k] = v
		}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = graphqlBase
	}

	return &Client{
		pool:    pool,
		cfg:     cfg,
		baseURL: baseURL,

		queryIDs:     queryIDs,
		features:     features,
		fieldToggles: defaultFieldToggles,

		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Threshold: cfg.BreakerThresh,
			Cooldown:  cfg.BreakerCooldown,
		}),
		sleep: sleepCtx,

		userIDCache: make(map[string]string),
	}, nil
}

// Pool exposes the credential pool for status reporting.
func (c *Client) Pool() *Pool { return c.pool }

// ResolveUserID looks up the numeric id for a handle, caching hits.
func (c *Client) ResolveUserID(ctx context.Context, username string) (string, error) {
	c.mu.Lock()
	if id, ok := c.userIDCache[username]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	variables := map[string]any{
		"screen_name":              username,
		"withSafetyModeUserFields": true,
	}
	body, err := c.requestWithRetry(ctx, c.queryIDs["UserByScreenName"], "UserByScreenName", variables)
	if err != nil {
		return "", err
	}

	id, err := parseUserID(body)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", eris.Errorf("xclient: user %s not found or unavailable", username)
	}

	c.mu.Lock()
	c.userIDCache[username] = id
	c.mu.Unlock()
	zap.L().Debug("xclient: resolved user",
		zap.String("username", username),
		zap.String("user_id", id),
	)
	return id, nil
}

// UserTweets fetches one timeline page. An empty cursor means the first
// page; the returned cursor is empty when there are no more pages. With
// includeReplies false, replies are dropped except self-replies (threads).
func (c *Client) UserTweets(ctx context.Context, userID string, count int, cursor string, includeReplies bool) ([]*Tweet, string, error) {
	if count > 100 {
		count = 100
	}
	variables := map[string]any{
		"userId":                                 userID,
		"count":                                  count,
		"includePromotedContent":                 false,
		"withQuickPromoteEligibilityTweetFields": true,
		"withVoice":                              true,
		"withV2Timeline":                         true,
	}
	if cursor != "" {
		variables["cursor"] = cursor
	}

	body, err := c.requestWithRetry(ctx, c.queryIDs["UserTweets"], "UserTweets", variables)
	if err != nil {
		return nil, "", err
	}

	tweets, next, err := parseTimeline(body)
	if err != nil {
		return nil, "", err
	}

	if !includeReplies {
		kept := tweets[:0]
		for _, t := range tweets {
			if t.InReplyToID == "" || t.InReplyToUsername == t.Username {
				kept = append(kept, t)
			}
		}
		tweets = kept
	}
	return tweets, next, nil
}

// requestWithRetry runs one GraphQL operation through the breaker with
// credential rotation.
func (c *Client) requestWithRetry(ctx context.Context, queryID, operation string, variables map[string]any) ([]byte, error) {
	log := zap.L()

	// An open breaker is waited out, not failed fast: the sweep is a batch
	// job and a 60s pause beats losing the source.
	if remaining := c.breaker.RemainingCooldown(); remaining > 0 {
		wait := remaining
		if wait > c.cfg.BreakerCooldown {
			wait = c.cfg.BreakerCooldown
		}
		log.Warn("xclient: circuit breaker open",
			zap.String("operation", operation),
			zap.Duration("wait", wait),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	reqURL := fmt.Sprintf("%s/%s/%s", c.baseURL, queryID, operation)
	params, err := c.buildParams(variables)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cred := c.pool.GetNext()
		if cred == nil {
			// Zero selects the pool's 30 minute wait bound.
			cred = c.pool.WaitForAvailable(ctx, 0)
			if cred == nil {
				log.Error("xclient: no usable credentials, giving up",
					zap.String("operation", operation))
				return nil, ErrNoCredentials
			}
		}

		if err := c.breaker.Allow(); err != nil {
			break
		}
		body, err := c.doRequest(ctx, reqURL, params, cred)
		c.breaker.Record(err)
		if err == nil {
			return body, nil
		}
		lastErr = err

		opened := c.breaker.State() == resilience.StateOpen

		var rle *RateLimitError
		var ae *AuthError
		switch {
		case errors.As(err, &rle):
			c.pool.MarkRateLimited(cred, rle.RetryAfter)
			log.Warn("xclient: rate limited, rotating credential",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
			)
		case errors.As(err, &ae):
			c.pool.MarkDead(cred, ae.Reason)
			log.Error("xclient: auth failure, retiring credential",
				zap.String("operation", operation),
				zap.Error(err),
			)
		default:
			log.Warn("xclient: request failed",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			if !opened && attempt < c.cfg.MaxRetries-1 {
				if err := c.sleep(ctx, time.Duration(attempt+1)*2*time.Second); err != nil {
					return nil, err
				}
			}
		}

		if opened {
			break
		}
	}

	if lastErr == nil {
		lastErr = resilience.ErrOpen
	}
	return nil, eris.Wrapf(lastErr, "xclient: %s failed after %d attempts", operation, c.cfg.MaxRetries)
}

func (c *Client) buildParams(variables map[string]any) (url.Values, error) {
	vars, err := json.Marshal(variables)
	if err != nil {
		return nil, eris.Wrap(err, "xclient: marshal variables")
	}
	features, err := json.Marshal(c.features)
	if err != nil {
		return nil, eris.Wrap(err, "xclient: marshal features")
	}
	toggles, err := json.Marshal(c.fieldToggles)
	if err != nil {
		return nil, eris.Wrap(err, "xclient: marshal fieldToggles")
	}
	return url.Values{
		"variables":    {string(vars)},
		"features":     {string(features)},
		"fieldToggles": {string(toggles)},
	}, nil
}

// doRequest performs one HTTP round trip and classifies the outcome into
// RateLimitError, AuthError or a transient failure.
func (c *Client) doRequest(ctx context.Context, reqURL string, params url.Values, cred *Credential) ([]byte, error) {
	profile := randomProfile()

	httpClient := c.cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(profile, c.cfg.Timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "xclient: build request")
	}
	c.setHeaders(req, cred, profile.UserAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &resilience.TransientError{Err: eris.Wrap(err, "xclient: request")}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &resilience.TransientError{Err: eris.Wrap(err, "xclient: read body")}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return classifyBody(body)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := DefaultRateLimitCooldown
		if raw := resp.Header.Get("Retry-After"); raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			} else {
				zap.L().Warn("xclient: unparseable retry-after header",
					zap.String("value", raw))
			}
		}
		return nil, &RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Reason: fmt.Sprintf("HTTP %d, token expired or banned", resp.StatusCode)}
	default:
		return nil, &resilience.TransientError{
			Err:        eris.Errorf("xclient: HTTP %d: %s", resp.StatusCode, snippet(body, 200)),
			StatusCode: resp.StatusCode,
		}
	}
}

// classifyBody handles the HTTP-200-with-errors case: the GraphQL layer
// reports rate limits and auth failures as business errors. Errors next
// to usable data are tolerated (partial timelines still parse).
func classifyBody(body []byte) ([]byte, error) {
	var envelope struct {
		Errors []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &resilience.TransientError{Err: eris.Wrap(err, "xclient: decode response")}
	}

	hasData := len(envelope.Data) > 0 && string(envelope.Data) != "null" && string(envelope.Data) != "{}"
	if len(envelope.Errors) == 0 || hasData {
		return body, nil
	}

	first := envelope.Errors[0]
	lower := strings.ToLower(first.Message)

	var msgs []string
	for i, e := range envelope.Errors {
		if i == 3 {
			break
		}
		msgs = append(msgs, e.Message)
	}
	joined := strings.Join(msgs, "; ")

	if first.Code == 88 || strings.Contains(lower, "rate limit") {
		return nil, &RateLimitError{RetryAfter: DefaultRateLimitCooldown}
	}
	if first.Code == 32 || first.Code == 64 || first.Code == 89 {
		return nil, &AuthError{Reason: "graphql: " + joined}
	}
	for _, k := range []string{"unauthorized", "forbidden", "auth"} {
		if strings.Contains(lower, k) {
			return nil, &AuthError{Reason: "graphql: " + joined}
		}
	}
	return nil, &resilience.TransientError{Err: eris.New("xclient: graphql: " + joined)}
}

func (c *Client) setHeaders(req *http.Request, cred *Credential, userAgent string) {
	req.Header.Set("authorization", bearerToken)
	req.Header.Set("x-csrf-token", cred.CSRF)
	req.Header.Set("x-twitter-active-user", "yes")
	req.Header.Set("x-twitter-auth-type", "OAuth2Session")
	req.Header.Set("x-twitter-client-language", "en")
	req.Header.Set("content-type", "application/json")
	req.Header.Set("user-agent", userAgent)
	req.Header.Set("accept", "*/*")
	req.Header.Set("accept-language", "en-US,en;q=0.9")
	req.Header.Set("referer", "https://x.com/")
	req.Header.Set("origin", "https://x.com")

	req.AddCookie(&http.Cookie{Name: "auth_token", Value: cred.AuthToken})
	req.AddCookie(&http.Cookie{Name: "ct0", Value: cred.CSRF})
}

func snippet(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n]
	}
	return s
}
