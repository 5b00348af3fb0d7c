package write

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datascout/scout/internal/model"
)

func organizedPost(event string, score int, domain model.Domain) model.OrganizedPost {
	return model.OrganizedPost{
		EnrichedPost: model.EnrichedPost{
			RawPost: model.RawPost{
				Title:      event + " title",
				Date:       "2026-08-20",
				Link:       "https://example.com/" + event,
				SourceType: model.SourceWeixin,
				SourceName: "Feed",
			},
		},
		Event:         event,
		KeyInfo:       "key info",
		Detail:        "details",
		Category:      model.CategoryTechRelease,
		Domain:        domain,
		QualityScore:  score,
		QualityReason: "because",
	}
}

func newTestWriter(t *testing.T, mapping map[string]string) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w := New(dir, "20260820_120000", NewEntityResolver(mapping), &bytes.Buffer{})
	return w, dir
}

func TestWriter_TierRouting(t *testing.T) {
	t.Parallel()

	w, dir := newTestWriter(t, nil)
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, organizedPost("high-event", 5, model.DomainLLMTech)))
	require.NoError(t, w.Write(ctx, organizedPost("pending-event", 3, model.DomainLLMTech)))
	require.NoError(t, w.Write(ctx, organizedPost("excluded-event", 1, model.DomainLLMTech)))
	require.NoError(t, w.Finalize(ctx))

	base := filepath.Join(dir, "By-Domain", "llm-tech-products")
	for tier, event := range map[string]string{
		"high":     "high-event",
		"pending":  "pending-event",
		"excluded": "excluded-event",
	} {
		matches, err := filepath.Glob(filepath.Join(base, tier, event+"_*.md"))
		require.NoError(t, err)
		assert.Len(t, matches, 1, "tier %s", tier)
	}
}

func TestWriter_ByEntityCopyOnlyForAccepted(t *testing.T) {
	t.Parallel()

	w, dir := newTestWriter(t, map[string]string{"ExampleAI": "Feed"})
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, organizedPost("accepted", 4, model.DomainLLMTech)))
	require.NoError(t, w.Write(ctx, organizedPost("rejected", 1, model.DomainLLMTech)))
	require.NoError(t, w.Finalize(ctx))

	entDir := filepath.Join(dir, "By-Entity", "ExampleAI")
	matches, err := filepath.Glob(filepath.Join(entDir, "accepted_*.md"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	// The entity file is a real copy with identical content.
	domainFile := filepath.Join(dir, "By-Domain", "llm-tech-products", "high",
		filepath.Base(matches[0]))
	want, err := os.ReadFile(domainFile)
	require.NoError(t, err)
	got, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, want, got)

	rejected, err := filepath.Glob(filepath.Join(dir, "By-Entity", "*", "rejected_*.md"))
	require.NoError(t, err)
	assert.Empty(t, rejected)
}

func TestWriter_EntityResolutionOrder(t *testing.T) {
	t.Parallel()

	resolver := NewEntityResolver(map[string]string{
		"OpenAI":    "openai, sam-altman",
		"Anthropic": "anthropic",
	})

	// 1) source-name alias, case-insensitive.
	assert.Equal(t, "OpenAI", resolver.Resolve("Sam-Altman", ""))
	assert.Equal(t, "OpenAI", resolver.Resolve("OPENAI", "Anthropic"))
	// 2) model-provided entity constrained to configured list.
	assert.Equal(t, "Anthropic", resolver.Resolve("unknown-feed", "anthropic"))
	// 3) fallback.
	assert.Equal(t, "Others", resolver.Resolve("unknown-feed", "NotConfigured"))
	assert.Equal(t, "Others", resolver.Resolve("unknown-feed", ""))
}

func TestWriter_PostsJSONPerDomain(t *testing.T) {
	t.Parallel()

	w, dir := newTestWriter(t, nil)
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, organizedPost("a", 4, model.DomainLLMTech)))
	require.NoError(t, w.Write(ctx, organizedPost("b", 1, model.DomainLLMTech)))
	require.NoError(t, w.Write(ctx, organizedPost("c", 3, model.DomainDataPlatforms)))
	require.NoError(t, w.Finalize(ctx))

	var llmRecords []Record
	data, err := os.ReadFile(filepath.Join(dir, "By-Domain", "llm-tech-products", "posts.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &llmRecords))

	// posts.json lists every written post, excluded tier included.
	require.Len(t, llmRecords, 2)
	for _, rec := range llmRecords {
		assert.Equal(t, model.DomainLLMTech, rec.Domain)
		assert.Equal(t, model.TierForScore(rec.QualityScore), rec.Tier)
		assert.GreaterOrEqual(t, rec.QualityScore, 1)
		assert.LessOrEqual(t, rec.QualityScore, 5)

		md := filepath.Join(dir, "By-Domain", string(rec.Domain), string(rec.Tier), rec.File)
		assert.FileExists(t, md)
	}
}

func TestWriter_Manifest(t *testing.T) {
	t.Parallel()

	w, dir := newTestWriter(t, map[string]string{"ExampleAI": "Feed"})
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, organizedPost("a", 5, model.DomainLLMTech)))
	require.NoError(t, w.Write(ctx, organizedPost("b", 3, model.DomainDataPlatforms)))
	require.NoError(t, w.Write(ctx, organizedPost("c", 1, model.DomainDataPlatforms)))
	require.NoError(t, w.Finalize(ctx))

	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, "latest_batch.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &m))

	assert.Equal(t, "20260820_120000", m.BatchID)
	assert.NotEmpty(t, m.CreatedAt)
	assert.Equal(t, 3, m.Stats.TotalPosts)
	assert.Equal(t, 2, m.Stats.DomainCount)

	dist := m.Stats.QualityDistribution
	assert.Equal(t, m.Stats.TotalPosts, dist["high"]+dist["pending"]+dist["excluded"])
	assert.Equal(t, 1, dist["high"])
	assert.Equal(t, 1, dist["pending"])
	assert.Equal(t, 1, dist["excluded"])

	// Entity counts cover accepted posts only.
	assert.Equal(t, map[string]int{"ExampleAI": 2}, m.Stats.TopEntities)

	assert.Equal(t, filepath.Join("By-Domain", "llm-tech-products"), m.DomainReports["llm-tech-products"])
}

func TestWriter_FailedMarkdownWriteNotIndexed(t *testing.T) {
	t.Parallel()

	w, dir := newTestWriter(t, nil)
	ctx := context.Background()

	// A plain file where the By-Domain tree should go makes every
	// markdown write fail.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "By-Domain"), []byte("x"), 0o644))

	require.NoError(t, w.Write(ctx, organizedPost("doomed", 4, model.DomainLLMTech)),
		"per-file failures must not abort the batch")

	require.NoError(t, os.Remove(filepath.Join(dir, "By-Domain")))
	require.NoError(t, w.Finalize(ctx))

	// The unwritten post appears nowhere: no posts.json entry, no tier
	// count, no entity count.
	assert.NoFileExists(t, filepath.Join(dir, "By-Domain", "llm-tech-products", "posts.json"))

	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, "latest_batch.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, 0, m.Stats.TotalPosts)
	assert.Empty(t, m.Stats.TopEntities)
}

func TestWriter_EmptyBatchStillWritesManifest(t *testing.T) {
	t.Parallel()

	w, dir := newTestWriter(t, nil)
	require.NoError(t, w.Finalize(context.Background()))

	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, "latest_batch.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, 0, m.Stats.TotalPosts)
}

func TestFilename_Injective(t *testing.T) {
	t.Parallel()

	// Same long event, distinct links: the hash suffix must keep the
	// names apart even after truncation.
	event := "An extremely long event title that will certainly exceed the fifty character budget"
	a := Filename(event, "2026-08-20", "https://a.com/1")
	b := Filename(event, "2026-08-20", "https://a.com/2")
	assert.NotEqual(t, a, b)
}

func TestSafeEvent(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"Model v2 released!", "Model_v2_released_"},
		{"keep-this_one", "keep-this_one"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeEvent(tt.in), tt.in)
	}
	assert.LessOrEqual(t, len([]rune(SafeEvent(string(make([]rune, 200))))), 50)
}

func TestLinkHash(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "nolink", LinkHash(""))
	assert.Len(t, LinkHash("https://example.com"), 6)
	assert.NotEqual(t, LinkHash("https://a.com"), LinkHash("https://b.com"))
	// Deterministic.
	assert.Equal(t, LinkHash("https://a.com"), LinkHash("https://a.com"))
}

func TestStars(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "★★★★☆", stars(4))
	assert.Equal(t, "☆☆☆☆☆", stars(0))
	assert.Equal(t, "★★★★★", stars(7))
}
