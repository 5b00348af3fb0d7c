package xclient

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/datascout/scout/internal/model"
)

func sampleTweet() *Tweet {
	return &Tweet{
		ID:        "12345",
		Text:      "New paper out: https://example.com/paper",
		CreatedAt: time.Date(2026, 8, 17, 10, 30, 0, 0, time.UTC),
		Username:  "researcher",
		URLs:      []string{"https://example.com/paper", "https://github.com/org/repo"},
	}
}

func TestTweet_Permalink(t *testing.T) {
	t.Parallel()

	tw := sampleTweet()
	assert.Equal(t, "https://x.com/researcher/status/12345", tw.Permalink())
	assert.Equal(t, "2026-08-17", tw.DateStr())
}

func TestTweet_ToRawPost(t *testing.T) {
	t.Parallel()

	tw := sampleTweet()
	tw.Media = []Media{
		{Type: "photo", URL: "https://pbs.twimg.com/p.jpg"},
		{Type: "video", URL: "https://video.twimg.com/v.mp4"},
	}
	tw.QuotedTweet = &Tweet{ID: "99", Text: "earlier finding", Username: "other"}
	tw.IsQuote = true

	post := tw.ToRawPost("X_Researcher")

	assert.Equal(t, model.SourceX, post.SourceType)
	assert.Equal(t, "X_Researcher", post.SourceName)
	assert.Equal(t, "https://x.com/researcher/status/12345", post.Link)
	assert.Equal(t, "2026-08-17", post.Date)

	// Every URL must be reachable from the content so the enrich stage
	// can pick it up, whether it appeared in the text or not.
	for _, u := range tw.URLs {
		assert.Contains(t, post.Content, u)
	}
	assert.Contains(t, post.Content, `<a href="https://example.com/paper">`)
	assert.Contains(t, post.Content, `<img src="https://pbs.twimg.com/p.jpg" />`)
	assert.Contains(t, post.Content, `<video src="https://video.twimg.com/v.mp4">`)
	assert.Contains(t, post.Content, "@other")
	assert.Contains(t, post.Content, "https://x.com/other/status/99")
}

func TestTweet_ToRawPostTitles(t *testing.T) {
	t.Parallel()

	t.Run("long text truncated to 100 runes", func(t *testing.T) {
		t.Parallel()
		tw := sampleTweet()
		tw.Text = strings.Repeat("x", 300)
		post := tw.ToRawPost("src")
		assert.Len(t, []rune(post.Title), 100)
	})

	t.Run("retweet title names the original author", func(t *testing.T) {
		t.Parallel()
		tw := sampleTweet()
		tw.IsRetweet = true
		tw.RetweetedTweet = &Tweet{Username: "orig", Text: strings.Repeat("y", 200)}
		post := tw.ToRawPost("src")
		assert.True(t, strings.HasPrefix(post.Title, "RT @orig: "))
		assert.LessOrEqual(t, len([]rune(post.Title)), 100)
	})

	t.Run("empty text placeholder", func(t *testing.T) {
		t.Parallel()
		tw := sampleTweet()
		tw.Text = ""
		tw.URLs = nil
		assert.Equal(t, "(No text)", tw.ToRawPost("src").Title)
	})
}

func TestSafeFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "X_Open_AI_", SafeFileName("X_Open AI!"))
	assert.Equal(t, "plain-name_1", SafeFileName("plain-name_1"))
}
