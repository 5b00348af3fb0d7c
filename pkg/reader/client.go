// Package reader fetches web pages and reduces them to readable text for
// the enrichment stage.
package reader

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/datascout/scout/internal/resilience"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; scout/1.0)"

// maxBodyBytes bounds how much of a page is read. Articles past this are
// almost certainly binary or generated.
const maxBodyBytes = 4 << 20

// Client defines the page reader operations.
type Client interface {
	// FetchArticle downloads the URL and returns the page's readable text.
	FetchArticle(ctx context.Context, url string) (string, error)
}

// Option configures the reader client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

type httpClient struct {
	http      *http.Client
	userAgent string
	retry     resilience.RetryConfig
}

// NewClient creates a page reader.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: defaultUserAgent,
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2,
			ShouldRetry:    resilience.IsTransient,
			OnRetry:        resilience.RetryLogger("reader", "fetch"),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchArticle implements the enrichment stage's article fetcher.
func (c *httpClient) FetchArticle(ctx context.Context, url string) (string, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (string, error) {
		return c.fetchOnce(ctx, url)
	})
}

func (c *httpClient) fetchOnce(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", eris.Wrapf(err, "reader: build request for %s", url)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", resilience.NewTransientError(eris.Wrapf(err, "reader: fetch %s", url), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("reader: %s returned HTTP %d", url, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(err, resp.StatusCode)
		}
		return "", err
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text") {
		return "", eris.Errorf("reader: %s is not a text page (%s)", url, ct)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	text, err := ExtractText(body)
	if err != nil {
		return "", eris.Wrapf(err, "reader: parse %s", url)
	}
	return text, nil
}

// ExtractText reduces an HTML document to its readable text: the title,
// then block-level text with boilerplate containers removed.
func ExtractText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript, nav, header, footer, aside, form, iframe").Remove()

	var parts []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		parts = append(parts, title)
	}

	// Prefer the semantic article container when the page has one.
	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	root.Find("h1, h2, h3, h4, p, li, blockquote, pre").Each(func(_ int, sel *goquery.Selection) {
		if text := collapseSpace(sel.Text()); text != "" {
			parts = append(parts, text)
		}
	})

	if len(parts) <= 1 {
		// No block structure worth keeping; fall back to the whole text.
		if text := collapseSpace(root.Text()); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
