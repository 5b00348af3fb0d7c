// Package enrich implements the second pipeline stage: expanding posts
// with the content behind their outbound links.
package enrich

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind classifies an outbound URL.
type Kind int

const (
	// KindArticle is fetched through the article reader.
	KindArticle Kind = iota
	// KindVideo is sent to the transcriber.
	KindVideo
	// KindMedia is a platform image CDN link: collected, never fetched.
	KindMedia
	// KindSelf is a link back into the platform itself; ignored.
	KindSelf
)

var videoHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"m.youtube.com":   true,
	"youtu.be":        true,
	"video.twimg.com": true,
}

var mediaHosts = map[string]bool{
	"pbs.twimg.com": true,
	"twimg.com":     true,
}

var selfHosts = map[string]bool{
	"twitter.com":        true,
	"www.twitter.com":    true,
	"mobile.twitter.com": true,
	"x.com":              true,
	"www.x.com":          true,
	"t.co":               true,
}

var videoExts = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".webm": true,
	".mkv":  true,
}

// Classify sorts a URL into article / video / media / self-reference.
func Classify(raw string) Kind {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return KindSelf
	}
	host := strings.ToLower(u.Host)

	switch {
	case videoHosts[host] || videoExts[strings.ToLower(path.Ext(u.Path))]:
		return KindVideo
	case mediaHosts[host]:
		return KindMedia
	case selfHosts[host]:
		return KindSelf
	default:
		return KindArticle
	}
}

// IsSilentVideo reports whether a video URL is the platform's GIF-to-MP4
// rendering, which carries no audio track.
func IsSilentVideo(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.ToLower(u.Host) == "video.twimg.com" &&
		strings.Contains(u.Path, "/tweet_video/")
}

// ExtractURLs pulls every link out of an HTML fragment: anchor hrefs first,
// then bare URLs in the text. Order of first occurrence, deduplicated.
func ExtractURLs(html string) []string {
	seen := map[string]bool{}
	var urls []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || seen[raw] {
			return
		}
		if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
			return
		}
		seen[raw] = true
		urls = append(urls, raw)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			add(href)
		}
	})
	doc.Find("video[src], source[src]").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			add(src)
		}
	})

	// Bare URLs in the visible text.
	for _, field := range strings.Fields(doc.Text()) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			add(strings.TrimRight(field, ".,;!?)\"'"))
		}
	}

	return urls
}
