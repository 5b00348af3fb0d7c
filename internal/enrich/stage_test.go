package enrich

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datascout/scout/internal/model"
)

type fakeArticles struct {
	texts map[string]string
	fail  map[string]bool
	calls []string
}

func (f *fakeArticles) FetchArticle(ctx context.Context, url string) (string, error) {
	f.calls = append(f.calls, url)
	if f.fail[url] {
		return "", eris.New("fetch failed")
	}
	return f.texts[url], nil
}

type fakeVideos struct {
	texts map[string]string
	errs  map[string]error
	calls []string
}

func (f *fakeVideos) Transcribe(ctx context.Context, url string) (string, error) {
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return "", err
	}
	return f.texts[url], nil
}

func xPost(content string) model.RawPost {
	return model.RawPost{
		Title:      "post",
		Date:       "2026-08-20",
		Link:       "https://x.com/a/status/1",
		SourceType: model.SourceX,
		SourceName: "A",
		Content:    content,
	}
}

func TestEnrich_MicroblogArticlesAndVideos(t *testing.T) {
	t.Parallel()

	articles := &fakeArticles{texts: map[string]string{
		"https://blog.example.com/post": "article body",
	}}
	videos := &fakeVideos{texts: map[string]string{
		"https://www.youtube.com/watch?v=abc": "transcript body",
	}}
	s := New(articles, videos)

	post := xPost(`<a href="https://blog.example.com/post">blog</a>
		<a href="https://www.youtube.com/watch?v=abc">video</a>
		<a href="https://pbs.twimg.com/media/img.jpg">img</a>
		<a href="https://t.co/short">self</a>`)

	got, err := s.Enrich(context.Background(), post)
	require.NoError(t, err)

	assert.Equal(t, "article body\n\ntranscript body", got.ExtraContent)
	// Article, then video, then media; self-links dropped.
	assert.Equal(t, []string{
		"https://blog.example.com/post",
		"https://www.youtube.com/watch?v=abc",
		"https://pbs.twimg.com/media/img.jpg",
	}, got.ExtraURLs)
}

func TestEnrich_PerURLFailureIsolation(t *testing.T) {
	t.Parallel()

	articles := &fakeArticles{
		texts: map[string]string{"https://ok.com/a": "kept"},
		fail:  map[string]bool{"https://bad.com/a": true},
	}
	s := New(articles, nil)

	got, err := s.Enrich(context.Background(), xPost(
		`<a href="https://bad.com/a">x</a><a href="https://ok.com/a">y</a>`))
	require.NoError(t, err)

	assert.Equal(t, "kept", got.ExtraContent)
	// Failed URLs still appear in extra_urls.
	assert.Contains(t, got.ExtraURLs, "https://bad.com/a")
}

func TestEnrich_SilentVideoSkipsTranscriber(t *testing.T) {
	t.Parallel()

	videos := &fakeVideos{}
	s := New(nil, videos)

	got, err := s.Enrich(context.Background(), xPost(
		`<a href="https://video.twimg.com/tweet_video/gif.mp4">gif</a>`))
	require.NoError(t, err)

	assert.Empty(t, videos.calls)
	assert.Empty(t, got.ExtraContent)
	assert.Equal(t, []string{"https://video.twimg.com/tweet_video/gif.mp4"}, got.ExtraURLs)
}

func TestEnrich_NoAudioMapsToEmptyTranscript(t *testing.T) {
	t.Parallel()

	videos := &fakeVideos{errs: map[string]error{
		"https://youtu.be/abc": ErrNoAudio,
	}}
	s := New(nil, videos)

	got, err := s.Enrich(context.Background(), xPost(`<a href="https://youtu.be/abc">v</a>`))
	require.NoError(t, err)
	assert.Empty(t, got.ExtraContent)
}

func TestEnrich_VideoPlatformTranscribesOwnLink(t *testing.T) {
	t.Parallel()

	videos := &fakeVideos{texts: map[string]string{
		"https://www.youtube.com/watch?v=xyz": "talk transcript",
	}}
	s := New(nil, videos)

	got, err := s.Enrich(context.Background(), model.RawPost{
		Title:      "talk",
		Link:       "https://www.youtube.com/watch?v=xyz",
		SourceType: model.SourceYouTube,
		SourceName: "Channel",
	})
	require.NoError(t, err)

	assert.Equal(t, "talk transcript", got.ExtraContent)
	assert.Equal(t, []string{"https://www.youtube.com/watch?v=xyz"}, videos.calls)
}

func TestEnrich_OtherSourcesPassThrough(t *testing.T) {
	t.Parallel()

	s := New(&fakeArticles{}, &fakeVideos{})
	got, err := s.Enrich(context.Background(), model.RawPost{
		Title:      "wx",
		SourceType: model.SourceWeixin,
		Content:    `<a href="https://blog.example.com/x">link</a>`,
	})
	require.NoError(t, err)

	assert.Empty(t, got.ExtraContent)
	assert.Empty(t, got.ExtraURLs)
}

func TestEnrich_ContentCap(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", MaxArticleChars+100)
	articles := &fakeArticles{texts: map[string]string{"https://long.com/a": long}}
	s := New(articles, nil)

	got, err := s.Enrich(context.Background(), xPost(`<a href="https://long.com/a">l</a>`))
	require.NoError(t, err)

	assert.Len(t, got.ExtraContent, MaxArticleChars+3)
	assert.True(t, strings.HasSuffix(got.ExtraContent, "..."))
}

func TestCapContent_CountsRunes(t *testing.T) {
	t.Parallel()

	// Multi-byte text under the cap passes through untouched; the cap is
	// a character limit, not a byte limit.
	cjk := strings.Repeat("数据智能平台发布新版本，", 2500)
	require.Greater(t, len(cjk), MaxArticleChars)
	assert.Equal(t, cjk, capContent(cjk))

	long := strings.Repeat("模", MaxArticleChars+100)
	capped := capContent(long)
	assert.True(t, strings.HasSuffix(capped, "..."))
	assert.Equal(t, MaxArticleChars+3, utf8.RuneCountInString(capped))
	assert.True(t, utf8.ValidString(capped))
}
