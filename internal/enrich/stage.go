package enrich

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/datascout/scout/internal/model"
)

// MaxArticleChars caps fetched article content, counted in runes so
// multi-byte text is not cut short; longer bodies are truncated with an
// ellipsis marker.
const MaxArticleChars = 50000

// ErrNoAudio is returned by transcribers for video without an audio track.
// The stage maps it to an empty transcript instead of a failure.
var ErrNoAudio = eris.New("no audio codec")

// ArticleFetcher turns an article URL into readable text.
type ArticleFetcher interface {
	FetchArticle(ctx context.Context, url string) (string, error)
}

// Transcriber turns a video URL into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, url string) (string, error)
}

// Stage enriches posts by source family: microblog posts get their linked
// articles and videos expanded, video-platform posts get their own link
// transcribed, everything else passes through untouched.
type Stage struct {
	articles ArticleFetcher
	videos   Transcriber
}

// New creates the enrich stage. Either dependency may be nil, which
// disables that enrichment kind.
func New(articles ArticleFetcher, videos Transcriber) *Stage {
	return &Stage{articles: articles, videos: videos}
}

// Enrich implements pipeline.Enricher.
func (s *Stage) Enrich(ctx context.Context, post model.RawPost) (model.EnrichedPost, error) {
	switch post.SourceType {
	case model.SourceX:
		return s.enrichMicroblog(ctx, post), nil
	case model.SourceYouTube:
		return s.enrichVideo(ctx, post), nil
	default:
		return model.EnrichedPost{RawPost: post, ExtraURLs: []string{}}, nil
	}
}

func (s *Stage) enrichMicroblog(ctx context.Context, post model.RawPost) model.EnrichedPost {
	log := zap.L().With(zap.String("source", post.SourceName), zap.String("link", post.Link))

	var articles, videos, media []string
	for _, u := range ExtractURLs(post.Content) {
		switch Classify(u) {
		case KindArticle:
			articles = append(articles, u)
		case KindVideo:
			videos = append(videos, u)
		case KindMedia:
			media = append(media, u)
		}
	}

	var parts []string
	for _, u := range articles {
		if s.articles == nil {
			continue
		}
		text, err := s.articles.FetchArticle(ctx, u)
		if err != nil {
			log.Warn("enrich: article fetch failed", zap.String("url", u), zap.Error(err))
			continue
		}
		if text = capContent(text); text != "" {
			parts = append(parts, text)
		}
	}
	for _, u := range videos {
		text, err := s.transcribe(ctx, u)
		if err != nil {
			log.Warn("enrich: transcription failed", zap.String("url", u), zap.Error(err))
			continue
		}
		if text != "" {
			parts = append(parts, text)
		}
	}

	return model.EnrichedPost{
		RawPost:      post,
		ExtraContent: strings.Join(parts, "\n\n"),
		ExtraURLs:    dedupe(articles, videos, media),
	}
}

func (s *Stage) enrichVideo(ctx context.Context, post model.RawPost) model.EnrichedPost {
	enriched := model.EnrichedPost{RawPost: post, ExtraURLs: []string{}}
	if post.Link == "" {
		return enriched
	}
	text, err := s.transcribe(ctx, post.Link)
	if err != nil {
		zap.L().Warn("enrich: transcription failed",
			zap.String("source", post.SourceName),
			zap.String("url", post.Link),
			zap.Error(err),
		)
		return enriched
	}
	enriched.ExtraContent = text
	return enriched
}

// transcribe invokes the transcriber, skipping known-silent renderings and
// treating a missing audio track as an empty transcript.
func (s *Stage) transcribe(ctx context.Context, url string) (string, error) {
	if s.videos == nil || IsSilentVideo(url) {
		return "", nil
	}
	text, err := s.videos.Transcribe(ctx, url)
	if err != nil {
		if eris.Is(err, ErrNoAudio) || strings.Contains(strings.ToLower(err.Error()), "no audio codec") {
			return "", nil
		}
		return "", err
	}
	return text, nil
}

func capContent(text string) string {
	if utf8.RuneCountInString(text) <= MaxArticleChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxArticleChars]) + "..."
}

func dedupe(groups ...[]string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, group := range groups {
		for _, u := range group {
			if !seen[u] {
				seen[u] = true
				out = append(out, u)
			}
		}
	}
	return out
}
