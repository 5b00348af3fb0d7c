package main

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/datascout/scout/internal/config"
	"github.com/datascout/scout/internal/fetch"
	"github.com/datascout/scout/internal/model"
	"github.com/datascout/scout/internal/xclient"
)

// feedSources builds the feed list from the configured sections: weixin
// entries carry full feed URLs, youtube entries carry channel ids.
func feedSources(cfg *config.Config) []fetch.FeedSource {
	var feeds []fetch.FeedSource
	for name, url := range cfg.Sources.Weixin {
		feeds = append(feeds, fetch.FeedSource{
			Name: name,
			URL:  url,
			Type: model.SourceWeixin,
		})
	}
	for name, channelID := range cfg.Sources.YouTube {
		feeds = append(feeds, fetch.FeedSource{
			Name: name,
			URL:  fmt.Sprintf("https://www.youtube.com/feeds/videos.xml?channel_id=%s", channelID),
			Type: model.SourceYouTube,
		})
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].Name < feeds[j].Name })
	return feeds
}

func xSources(cfg *config.Config) []fetch.XSource {
	var xs []fetch.XSource
	for name, handle := range cfg.Sources.X {
		xs = append(xs, fetch.XSource{Name: name, Handle: handle})
	}
	sort.Slice(xs, func(i, j int) bool { return xs[i].Name < xs[j].Name })
	return xs
}

// credentialPool loads credentials from the config string first, the
// dotenv file second. Returns nil when neither yields credentials.
func credentialPool(cfg config.XScraperConfig) *xclient.Pool {
	if cfg.AuthCredentials != "" {
		pool, err := xclient.PoolFromConfigString(cfg.AuthCredentials)
		if err != nil {
			zap.L().Warn("x-scraper: auth_credentials unusable", zap.Error(err))
		} else {
			return pool
		}
	}
	if cfg.EnvFile != "" {
		pool, err := xclient.PoolFromEnvFile(cfg.EnvFile)
		if err != nil {
			zap.L().Warn("x-scraper: env file unusable",
				zap.String("file", cfg.EnvFile),
				zap.Error(err),
			)
			return nil
		}
		return pool
	}
	return nil
}

// newXScraper wires the direct GraphQL scraper, or returns nil when no
// credentials are configured.
func newXScraper(cfg *config.Config) (*xclient.Scraper, error) {
	pool := credentialPool(cfg.XScraper)
	if pool == nil {
		return nil, nil
	}

	client, err := xclient.NewClient(pool, xclient.ClientConfig{
		Timeout:         time.Duration(cfg.XScraper.RequestTimeout) * time.Second,
		MaxRetries:      cfg.XScraper.MaxRetries,
		BreakerThresh:   cfg.XScraper.CircuitBreakerThreshold,
		BreakerCooldown: time.Duration(cfg.XScraper.CircuitBreakerCooldown) * time.Second,
		QueryIDs:        cfg.XScraper.QueryIDs,
		Features:        cfg.XScraper.Features,
	})
	if err != nil {
		return nil, err
	}

	return xclient.NewScraper(client, xclient.ScraperConfig{
		MaxTweetsPerUser:   cfg.XScraper.MaxTweetsPerUser,
		DaysLookback:       cfg.Crawler.DaysLookback,
		IncludeRetweets:    cfg.XScraper.IncludeRetweets,
		IncludeReplies:     cfg.XScraper.IncludeReplies,
		PageDelayMin:       time.Duration(cfg.XScraper.RequestDelayMin) * time.Second,
		PageDelayMax:       time.Duration(cfg.XScraper.RequestDelayMax) * time.Second,
		UserSwitchDelayMin: time.Duration(cfg.XScraper.UserSwitchDelayMin) * time.Second,
		UserSwitchDelayMax: time.Duration(cfg.XScraper.UserSwitchDelayMax) * time.Second,
	}), nil
}
