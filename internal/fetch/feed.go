// Package fetch implements the first pipeline stage: pulling configured
// sources and normalizing their entries into raw posts.
package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/datascout/scout/internal/model"
)

// FeedSource is one RSS/Atom feed to pull.
type FeedSource struct {
	Name string
	URL  string
	Type model.SourceType
}

// FeedClient fetches and normalizes one feed. It keeps a per-host rate
// limiter so a burst of feeds on the same host stays polite.
type FeedClient struct {
	parser  *gofeed.Parser
	timeout time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	now func() time.Time
}

// NewFeedClient creates a feed client with the given per-request timeout.
func NewFeedClient(timeout time.Duration) *FeedClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = "Mozilla/5.0 (compatible; scout/1.0)"
	return &FeedClient{
		parser:   parser,
		timeout:  timeout,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Fetch pulls one feed and returns its entries inside the lookback window,
// newest order as served. Entries without a parseable publish date are
// skipped: an undated entry cannot be placed inside or outside the window.
func (c *FeedClient) Fetch(ctx context.Context, src FeedSource, lookback time.Duration) ([]model.RawPost, error) {
	if err := c.hostLimiter(src.URL).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetch: rate limit wait")
	}

	feed, err := c.parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: parse feed %s", src.Name)
	}

	cutoff := c.now().UTC().Add(-lookback)

	var posts []model.RawPost
	for _, item := range feed.Items {
		published := itemDate(item)
		if published == nil {
			continue
		}
		pub := published.UTC()
		if pub.Before(cutoff) {
			continue
		}
		posts = append(posts, model.RawPost{
			Title:      strings.TrimSpace(item.Title),
			Date:       pub.Format("2006-01-02"),
			Link:       item.Link,
			FeedURL:    src.URL,
			SourceType: src.Type,
			SourceName: src.Name,
			Content:    itemContent(item, src.Type),
		})
	}
	return posts, nil
}

func (c *FeedClient) hostLimiter(feedURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(feedURL); err == nil {
		host = u.Host
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = rate.NewLimiter(2, 2)
		c.limiters[host] = lim
	}
	return lim
}

func itemDate(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}

// itemContent picks the richer body per source family: WeChat feeds carry
// the full article in the content element while the description is a
// teaser; the video and microblog bridges put everything in description.
func itemContent(item *gofeed.Item, typ model.SourceType) string {
	switch typ {
	case model.SourceWeixin:
		if item.Content != "" {
			return item.Content
		}
		return item.Description
	default:
		if item.Description != "" {
			return item.Description
		}
		return item.Content
	}
}
