package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datascout/scout/internal/config"
	"github.com/datascout/scout/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(`
[llm]
api_key = test

[weixin_accounts]
Tencent-Eng = https://example.com/feed.xml

[youtube_channels]
AI-Talks = UC123

[x_accounts]
X_OpenAI = OpenAI
`), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestFeedSources(t *testing.T) {
	t.Parallel()

	feeds := feedSources(testConfig(t))
	require.Len(t, feeds, 2)

	assert.Equal(t, "AI-Talks", feeds[0].Name)
	assert.Equal(t, model.SourceYouTube, feeds[0].Type)
	assert.Equal(t, "https://www.youtube.com/feeds/videos.xml?channel_id=UC123", feeds[0].URL)

	assert.Equal(t, "Tencent-Eng", feeds[1].Name)
	assert.Equal(t, model.SourceWeixin, feeds[1].Type)
	assert.Equal(t, "https://example.com/feed.xml", feeds[1].URL)
}

func TestXSources(t *testing.T) {
	t.Parallel()

	xs := xSources(testConfig(t))
	require.Len(t, xs, 1)
	assert.Equal(t, "X_OpenAI", xs[0].Name)
	assert.Equal(t, "OpenAI", xs[0].Handle)
}

func TestCredentialPool(t *testing.T) {
	t.Parallel()

	t.Run("from config string", func(t *testing.T) {
		t.Parallel()
		pool := credentialPool(config.XScraperConfig{AuthCredentials: "tok:csrf"})
		require.NotNil(t, pool)
		assert.Equal(t, 1, pool.Size())
	})

	t.Run("from env file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "creds.env")
		require.NoError(t, os.WriteFile(path, []byte("TWITTER_AUTH_TOKEN=tok\nTWITTER_CT0=csrf\n"), 0o600))
		pool := credentialPool(config.XScraperConfig{EnvFile: path})
		require.NotNil(t, pool)
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, credentialPool(config.XScraperConfig{}))
	})

	t.Run("missing env file", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, credentialPool(config.XScraperConfig{EnvFile: "/nonexistent.env"}))
	})
}

func TestBatchDirs(t *testing.T) {
	t.Parallel()

	outDir, snapshotDir := batchDirs("data", "", "20260824_120000")
	// The manifest and trees live at the stable root; each batch
	// overwrites latest_batch.json there.
	assert.Equal(t, "data", outDir)
	assert.Equal(t, filepath.Join("data", "raw_20260824_120000"), snapshotDir)

	outDir, snapshotDir = batchDirs("data", "/tmp/out", "20260824_120000")
	assert.Equal(t, "/tmp/out", outDir)
	assert.Equal(t, filepath.Join("/tmp/out", "raw_20260824_120000"), snapshotDir)
}

func TestNewXScraperWithoutCredentials(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.XScraper.EnvFile = ""
	scraper, err := newXScraper(cfg)
	require.NoError(t, err)
	assert.Nil(t, scraper)
}
