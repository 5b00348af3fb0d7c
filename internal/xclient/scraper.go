package xclient

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/datascout/scout/internal/model"
)

// timelineSource is what the scraper needs from the GraphQL client.
// Tests script pages through a double.
type timelineSource interface {
	ResolveUserID(ctx context.Context, username string) (string, error)
	UserTweets(ctx context.Context, userID string, count int, cursor string, includeReplies bool) ([]*Tweet, string, error)
}

// ScraperConfig controls the timeline sweep.
type ScraperConfig struct {
	MaxTweetsPerUser int // default 20
	DaysLookback     int // 0 disables the date cutoff

	IncludeRetweets bool
	IncludeReplies  bool

	// PageDelayMin/Max bound the pause between timeline pages;
	// UserSwitchDelayMin/Max the pause between users in a sweep.
	PageDelayMin       time.Duration
	PageDelayMax       time.Duration
	UserSwitchDelayMin time.Duration
	UserSwitchDelayMax time.Duration
}

// Scraper paginates user timelines through the client with date
// filtering, cross-page dedup and the anti-stall termination rules.
type Scraper struct {
	source timelineSource
	cfg    ScraperConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewScraper wires a scraper over the GraphQL client.
func NewScraper(client *Client, cfg ScraperConfig) *Scraper {
	return newScraper(client, cfg)
}

func newScraper(source timelineSource, cfg ScraperConfig) *Scraper {
	if cfg.MaxTweetsPerUser <= 0 {
		cfg.MaxTweetsPerUser = 20
	}
	if cfg.PageDelayMin <= 0 {
		cfg.PageDelayMin = 2 * time.Second
	}
	if cfg.PageDelayMax <= cfg.PageDelayMin {
		cfg.PageDelayMax = cfg.PageDelayMin + 3*time.Second
	}
	return &Scraper{
		source: source,
		cfg:    cfg,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// FetchUser implements fetch.XFetcher: resolve the handle, sweep the
// timeline and adapt the tweets into pipeline posts.
func (s *Scraper) FetchUser(ctx context.Context, handle string) ([]model.RawPost, error) {
	tweets, err := s.FetchUserTweets(ctx, handle)
	if err != nil {
		return nil, err
	}
	posts := make([]model.RawPost, 0, len(tweets))
	for _, t := range tweets {
		posts = append(posts, t.ToRawPost("X_"+handle))
	}
	return posts, nil
}

// FetchUserTweets sweeps one user's timeline newest-first.
func (s *Scraper) FetchUserTweets(ctx context.Context, username string) ([]*Tweet, error) {
	log := zap.L()

	userID, err := s.source.ResolveUserID(ctx, username)
	if err != nil {
		return nil, eris.Wrapf(err, "xclient: resolve @%s", username)
	}

	var cutoff time.Time
	if s.cfg.DaysLookback > 0 {
		cutoff = s.now().UTC().AddDate(0, 0, -s.cfg.DaysLookback)
	}

	log.Info("xclient: sweeping timeline",
		zap.String("username", username),
		zap.Int("limit", s.cfg.MaxTweetsPerUser),
		zap.Time("cutoff", cutoff),
	)
	tweets, err := s.paginate(ctx, userID, cutoff)
	if err != nil {
		return nil, err
	}
	log.Info("xclient: timeline swept",
		zap.String("username", username),
		zap.Int("tweets", len(tweets)),
	)
	return tweets, nil
}

// paginate walks the timeline until the limit is reached or one of the
// termination rules fires. Pinned tweets repeat on every page, so the
// loop tracks cross-page duplicates and stops once a page contributes
// nothing new.
func (s *Scraper) paginate(ctx context.Context, userID string, cutoff time.Time) ([]*Tweet, error) {
	log := zap.L()
	limit := s.cfg.MaxTweetsPerUser

	var (
		collected     []*Tweet
		cursor        string
		page          int
		seenIDs       = map[string]bool{}
		seenCursors   = map[string]bool{}
		dupHits       = map[string]int{}
		emptyAddPages int
	)

	const maxEmptyAddPages = 3
	const nearAllOldRatio = 0.9

	for len(collected) < limit {
		page++
		perPage := limit - len(collected)
		if perPage > 20 {
			// Small pages stay under the platform's anomaly detection.
			perPage = 20
		}

		tweets, next, err := s.source.UserTweets(ctx, userID, perPage, cursor, s.cfg.IncludeReplies)
		if err != nil {
			// Keep what we already have; a later page failing should not
			// void the earlier ones.
			if len(collected) > 0 {
				log.Warn("xclient: page failed mid-sweep, keeping partial result",
					zap.Int("page", page),
					zap.Int("collected", len(collected)),
					zap.Error(err),
				)
				break
			}
			return nil, err
		}

		if len(tweets) == 0 {
			log.Info("xclient: empty page, stopping",
				zap.Int("page", page))
			break
		}

		var (
			pageHasNewEnough bool
			added            int
			skippedOld       int
			skippedRetweet   int
			skippedDup       int
			dupSample        string
		)
		for _, t := range tweets {
			// Date check first: pagination termination looks at dates
			// only, so a page full of filtered retweets is not mistaken
			// for a page of stale content.
			inRange := true
			if !cutoff.IsZero() && !t.CreatedAt.IsZero() && t.CreatedAt.Before(cutoff) {
				inRange = false
			}
			if inRange {
				pageHasNewEnough = true
			}

			if !inRange {
				skippedOld++
				continue
			}
			if !s.cfg.IncludeRetweets && t.IsRetweet {
				skippedRetweet++
				continue
			}
			if seenIDs[t.ID] {
				skippedDup++
				if t.ID != "" {
					dupHits[t.ID]++
					if dupSample == "" {
						dupSample = t.ID
					}
				}
				continue
			}

			seenIDs[t.ID] = true
			collected = append(collected, t)
			added++
			if len(collected) >= limit {
				break
			}
		}

		log.Info("xclient: page done",
			zap.Int("page", page),
			zap.String("cursor", cursor),
			zap.String("next", next),
			zap.Int("raw", len(tweets)),
			zap.Int("add", added),
			zap.Int("skip_old", skippedOld),
			zap.Int("skip_rt", skippedRetweet),
			zap.Int("skip_dup", skippedDup),
			zap.Int("total", len(collected)),
		)

		if added == 0 {
			emptyAddPages++
		} else {
			emptyAddPages = 0
		}

		// Pinned/duplicate entries dominate the page with no new tweets.
		if added == 0 && skippedDup > 0 &&
			skippedOld+skippedRetweet+skippedDup >= len(tweets) {
			log.Info("xclient: duplicate-dominated page, stopping",
				zap.String("dup_sample", dupSample))
			break
		}

		// Nearly everything on the page predates the cutoff.
		oldRatio := float64(skippedOld) / float64(len(tweets))
		if added == 0 && !cutoff.IsZero() && oldRatio >= nearAllOldRatio {
			log.Info("xclient: page mostly stale, stopping",
				zap.Float64("old_ratio", oldRatio))
			break
		}

		if emptyAddPages >= maxEmptyAddPages {
			log.Info("xclient: no progress for several pages, stopping",
				zap.Int("pages", emptyAddPages))
			break
		}

		// The whole page predates the cutoff: the sweep reached the end
		// of the lookback window.
		if !cutoff.IsZero() && !pageHasNewEnough {
			break
		}

		if next == "" {
			break
		}
		if next == cursor || seenCursors[next] {
			log.Warn("xclient: cursor loop detected, stopping")
			break
		}
		seenCursors[next] = true
		cursor = next

		if err := s.sleep(ctx, randDelay(s.cfg.PageDelayMin, s.cfg.PageDelayMax)); err != nil {
			return collected, err
		}
	}

	if len(dupHits) > 0 {
		log.Info("xclient: cross-page duplicate hits",
			zap.Any("top", topDupHits(dupHits, 3)))
	}
	return collected, nil
}

// SweepAll fetches every configured account serially with randomized
// pacing between users. Per-user failures are isolated; the map carries
// an empty slice for failed sources.
func (s *Scraper) SweepAll(ctx context.Context, accounts map[string]string) (map[string][]model.RawPost, error) {
	log := zap.L()

	names := make([]string, 0, len(accounts))
	for name := range accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string][]model.RawPost, len(accounts))
	succeeded := 0
	totalPosts := 0

	for i, name := range names {
		handle := accounts[name]
		log.Info("xclient: sweeping account",
			zap.Int("n", i+1),
			zap.Int("of", len(names)),
			zap.String("source", name),
			zap.String("handle", handle),
		)

		tweets, err := s.FetchUserTweets(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			log.Error("xclient: account sweep failed",
				zap.String("source", name),
				zap.Error(err),
			)
			results[name] = []model.RawPost{}
		} else {
			posts := make([]model.RawPost, 0, len(tweets))
			for _, t := range tweets {
				posts = append(posts, t.ToRawPost(name))
			}
			results[name] = posts
			succeeded++
			totalPosts += len(posts)
		}

		if i < len(names)-1 {
			delay := randDelay(s.cfg.UserSwitchDelayMin, s.cfg.UserSwitchDelayMax)
			log.Info("xclient: user switch delay", zap.Duration("delay", delay))
			if err := s.sleep(ctx, delay); err != nil {
				return results, err
			}
		}
	}

	log.Info("xclient: sweep complete",
		zap.Int("succeeded", succeeded),
		zap.Int("total_users", len(names)),
		zap.Int("posts", totalPosts),
	)
	return results, nil
}

// DumpResults writes one pretty JSON file per source under
// <dataDir>/x_scraper_<timestamp>/, skipping empty sources.
func (s *Scraper) DumpResults(dataDir string, results map[string][]model.RawPost) (string, error) {
	outDir := filepath.Join(dataDir, "x_scraper_"+s.now().Format("20060102_150405"))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", eris.Wrap(err, "xclient: create dump dir")
	}
	for name, posts := range results {
		if len(posts) == 0 {
			continue
		}
		data, err := json.MarshalIndent(posts, "", "  ")
		if err != nil {
			return "", eris.Wrapf(err, "xclient: marshal dump for %s", name)
		}
		path := filepath.Join(outDir, SafeFileName(name)+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", eris.Wrapf(err, "xclient: write dump for %s", name)
		}
	}
	return outDir, nil
}

// SafeFileName keeps alphanumerics, dash and underscore.
func SafeFileName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func randDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}

type dupHit struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func topDupHits(hits map[string]int, n int) []dupHit {
	ranked := make([]dupHit, 0, len(hits))
	for id, count := range hits {
		ranked = append(ranked, dupHit{ID: id, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
