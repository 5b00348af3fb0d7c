package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_FixedSections(t *testing.T) {
	path := writeConfig(t, `
[llm]
api_key = sk-test
base_url = https://llm.example.com/v1
model = test-model
max_concurrency = 4

[crawler]
days_lookback = 3
organize_workers = 2
enrich_workers = 7
x_request_delay_min = 10
x_request_delay_max = 20

[x_scraper]
auth_credentials = tokA:csrfA;tokB:csrfB
max_tweets_per_user = 50
include_retweets = true
circuit_breaker_threshold = 9
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "https://llm.example.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "test-model", cfg.LLM.Model)
	assert.Equal(t, 4, cfg.LLM.MaxConcurrency)

	assert.Equal(t, 3, cfg.Crawler.DaysLookback)
	assert.Equal(t, 2, cfg.Crawler.OrganizeWorkers)
	assert.Equal(t, 7, cfg.Crawler.EnrichWorkers)
	assert.Equal(t, 10, cfg.Crawler.XRequestDelayMin)
	assert.Equal(t, 20, cfg.Crawler.XRequestDelayMax)

	assert.Equal(t, "tokA:csrfA;tokB:csrfB", cfg.XScraper.AuthCredentials)
	assert.Equal(t, 50, cfg.XScraper.MaxTweetsPerUser)
	assert.True(t, cfg.XScraper.IncludeRetweets)
	assert.Equal(t, 9, cfg.XScraper.CircuitBreakerThreshold)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "[llm]\napi_key = k\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Crawler.DaysLookback)
	assert.Equal(t, 5, cfg.Crawler.OrganizeWorkers)
	assert.Equal(t, 5, cfg.Crawler.EnrichWorkers)
	assert.Equal(t, 1000, cfg.Crawler.QueueSize)
	assert.Equal(t, 30, cfg.Crawler.XRequestDelayMin)
	assert.Equal(t, 60, cfg.Crawler.XRequestDelayMax)
	assert.Equal(t, 20, cfg.XScraper.MaxTweetsPerUser)
	assert.Equal(t, 3, cfg.XScraper.MaxRetries)
	assert.Equal(t, 5, cfg.XScraper.CircuitBreakerThreshold)
	assert.Equal(t, 60, cfg.XScraper.CircuitBreakerCooldown)
	assert.False(t, cfg.XScraper.IncludeRetweets)
	assert.Equal(t, "data", cfg.Output.Dir)
}

func TestLoad_DynamicSectionsPreserveCase(t *testing.T) {
	path := writeConfig(t, `
[weixin_accounts]
AI-Frontline = https://feeds.example.com/ai-frontline
DataWorks = https://feeds.example.com/dataworks

[x_accounts]
OpenAI = openai
Sam-Altman = sama

[youtube_channels]
DeepLearningAI = UCcIXc5mJsHVYTZR1maL5l9w

[entity_mapping]
OpenAI = openai, sam-altman
Anthropic = anthropic
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://feeds.example.com/ai-frontline", cfg.Sources.Weixin["AI-Frontline"])
	assert.Equal(t, "openai", cfg.Sources.X["OpenAI"])
	assert.Equal(t, "sama", cfg.Sources.X["Sam-Altman"])
	assert.Equal(t, "UCcIXc5mJsHVYTZR1maL5l9w", cfg.Sources.YouTube["DeepLearningAI"])

	// Canonical entity names keep their exact case.
	assert.Equal(t, "openai, sam-altman", cfg.EntityMapping["OpenAI"])
	assert.Equal(t, "anthropic", cfg.EntityMapping["Anthropic"])
	_, lowered := cfg.EntityMapping["openai"]
	assert.False(t, lowered)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.ini"))
	assert.Error(t, err)
}

func TestLoad_EmptyValuesSkipped(t *testing.T) {
	path := writeConfig(t, `
[x_accounts]
OpenAI = openai
Blank =
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Sources.X, 1)
	_, ok := cfg.Sources.X["Blank"]
	assert.False(t, ok)
}
