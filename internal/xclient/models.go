// Package xclient talks to the microblog platform's internal GraphQL
// surface directly: credential pool, browser-impersonating transport,
// response parsing and paginated timeline sweeps.
package xclient

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/datascout/scout/internal/model"
)

// Media is one photo/video/GIF attachment.
type Media struct {
	Type       string `json:"type"` // "photo", "video", "animated_gif"
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url"`
	AltText    string `json:"alt_text"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	DurationMS int    `json:"duration_ms"`
}

// Tweet is the parsed timeline record.
type Tweet struct {
	ID          string
	Text        string
	CreatedAt   time.Time // zero when the date failed to parse
	UserID      string
	Username    string
	DisplayName string

	ReplyCount    int
	RetweetCount  int
	LikeCount     int
	ViewCount     int
	BookmarkCount int
	QuoteCount    int

	URLs  []string
	Media []Media

	IsRetweet      bool
	IsQuote        bool
	QuotedTweet    *Tweet
	RetweetedTweet *Tweet

	InReplyToID       string
	InReplyToUsername string
	ConversationID    string

	Lang   string
	Source string // publishing client name
}

// Permalink is the canonical status URL.
func (t *Tweet) Permalink() string {
	return fmt.Sprintf("https://x.com/%s/status/%s", t.Username, t.ID)
}

// DateStr renders the publish date as YYYY-MM-DD, empty when unknown.
func (t *Tweet) DateStr() string {
	if t.CreatedAt.IsZero() {
		return ""
	}
	return t.CreatedAt.UTC().Format("2006-01-02")
}

// ToRawPost renders the tweet as a pipeline post. The content is a small
// synthetic HTML document shaped like the RSS bridge's output so the
// enrich stage's link extractor works unchanged.
func (t *Tweet) ToRawPost(sourceName string) model.RawPost {
	title := t.Text
	if t.IsRetweet && t.RetweetedTweet != nil {
		rt := t.RetweetedTweet
		title = fmt.Sprintf("RT @%s: %s", rt.Username, truncate(rt.Text, 80))
	}
	if title == "" {
		title = "(No text)"
	}

	return model.RawPost{
		Title:      truncate(title, 100),
		Date:       t.DateStr(),
		Link:       t.Permalink(),
		SourceType: model.SourceX,
		SourceName: sourceName,
		Content:    t.contentHTML(),
	}
}

func (t *Tweet) contentHTML() string {
	text := html.EscapeString(t.Text)

	var trailing []string
	for _, u := range t.URLs {
		escaped := html.EscapeString(u)
		link := fmt.Sprintf(`<a href="%s">%s</a>`, escaped, escaped)
		if strings.Contains(text, escaped) {
			text = strings.ReplaceAll(text, escaped, link)
		} else {
			// Shortened in the text body; append the expansion.
			trailing = append(trailing, link)
		}
	}

	parts := []string{fmt.Sprintf("<p>%s</p>", text)}
	parts = append(parts, trailing...)

	for _, m := range t.Media {
		switch m.Type {
		case "photo":
			parts = append(parts, fmt.Sprintf(`<img src="%s" />`, html.EscapeString(m.URL)))
		case "video", "animated_gif":
			parts = append(parts, fmt.Sprintf(`<video src="%s"></video>`, html.EscapeString(m.URL)))
		}
	}

	if qt := t.QuotedTweet; qt != nil {
		parts = append(parts, fmt.Sprintf(
			"<blockquote><p><b>@%s</b>: %s</p><a href=\"%s\">%s</a></blockquote>",
			html.EscapeString(qt.Username),
			html.EscapeString(truncate(qt.Text, 200)),
			html.EscapeString(qt.Permalink()),
			html.EscapeString(qt.Permalink()),
		))
	}

	return strings.Join(parts, "\n")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
