package fetch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/datascout/scout/internal/model"
)

// XSource is one microblog account to sweep through the direct client.
type XSource struct {
	Name   string
	Handle string
}

// XFetcher pulls recent posts for one handle. The direct GraphQL client
// implements this; tests inject doubles.
type XFetcher interface {
	FetchUser(ctx context.Context, handle string) ([]model.RawPost, error)
}

// Config controls the stage.
type Config struct {
	Lookback    time.Duration
	FeedWorkers int

	// XDelayMin/Max bound the random pause between consecutive microblog
	// sources. The sweep runs on a single worker: one authenticated
	// session must not fan out.
	XDelayMin time.Duration
	XDelayMax time.Duration

	// SnapshotDir receives one raw JSON dump per source when non-empty.
	SnapshotDir string
}

// Stage fetches every configured source and emits normalized raw posts.
// Feed sources run on a small parallel pool; microblog sources run
// serially with randomized pacing.
type Stage struct {
	cfg   Config
	feeds []FeedSource
	xs    []XSource

	client *FeedClient
	x      XFetcher

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates the fetch stage. x may be nil when no credentials are
// configured; microblog sources are then skipped with a warning.
func New(cfg Config, client *FeedClient, x XFetcher, feeds []FeedSource, xs []XSource) *Stage {
	if cfg.FeedWorkers <= 0 {
		cfg.FeedWorkers = 5
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 7 * 24 * time.Hour
	}
	return &Stage{
		cfg:    cfg,
		feeds:  feeds,
		xs:     xs,
		client: client,
		x:      x,
		sleep:  sleepCtx,
	}
}

// Fetch implements pipeline.Fetcher. Per-source failures are logged and
// skipped; the stage only fails on cancellation.
func (s *Stage) Fetch(ctx context.Context, out chan<- model.RawPost) error {
	log := zap.L()

	g, gCtx := errgroup.WithContext(ctx)

	// Feed families: parallel pool.
	feedQ := make(chan FeedSource)
	for i := 0; i < s.cfg.FeedWorkers; i++ {
		g.Go(func() error {
			for src := range feedQ {
				posts, err := s.client.Fetch(gCtx, src, s.cfg.Lookback)
				if err != nil {
					log.Warn("fetch: feed failed",
						zap.String("source", src.Name),
						zap.String("type", string(src.Type)),
						zap.Error(err),
					)
					continue
				}
				log.Info("fetch: feed done",
					zap.String("source", src.Name),
					zap.String("type", string(src.Type)),
					zap.Int("posts", len(posts)),
				)
				s.snapshot(src.Type, src.Name, posts)
				if err := emit(gCtx, out, posts); err != nil {
					return err
				}
			}
			return nil
		})
	}

	// Microblog family: strictly serial on its own worker.
	g.Go(func() error {
		return s.fetchX(gCtx, out)
	})

	g.Go(func() error {
		defer close(feedQ)
		for _, src := range s.feeds {
			select {
			case feedQ <- src:
			case <-gCtx.Done():
				return gCtx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

func (s *Stage) fetchX(ctx context.Context, out chan<- model.RawPost) error {
	log := zap.L()

	if len(s.xs) == 0 {
		return nil
	}
	if s.x == nil {
		log.Warn("fetch: no microblog client configured, skipping sources",
			zap.Int("sources", len(s.xs)))
		return nil
	}

	for i, src := range s.xs {
		if i > 0 {
			if err := s.sleep(ctx, s.xDelay()); err != nil {
				return err
			}
		}
		posts, err := s.x.FetchUser(ctx, src.Handle)
		if err != nil {
			log.Warn("fetch: microblog source failed",
				zap.String("source", src.Name),
				zap.String("handle", src.Handle),
				zap.Error(err),
			)
			continue
		}
		for j := range posts {
			posts[j].SourceName = src.Name
		}
		recent := filterLookback(posts, time.Now().UTC().Add(-s.cfg.Lookback))
		log.Info("fetch: microblog source done",
			zap.String("source", src.Name),
			zap.Int("posts", len(recent)),
		)
		s.snapshot(model.SourceX, src.Name, recent)
		if err := emit(ctx, out, recent); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stage) xDelay() time.Duration {
	min, max := s.cfg.XDelayMin, s.cfg.XDelayMax
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}

func (s *Stage) snapshot(typ model.SourceType, name string, posts []model.RawPost) {
	if s.cfg.SnapshotDir == "" || len(posts) == 0 {
		return
	}
	if err := WriteSnapshot(s.cfg.SnapshotDir, typ, name, posts); err != nil {
		zap.L().Warn("fetch: snapshot write failed",
			zap.String("source", name),
			zap.Error(err),
		)
	}
}

func filterLookback(posts []model.RawPost, cutoff time.Time) []model.RawPost {
	var kept []model.RawPost
	for _, p := range posts {
		if p.Date == "" {
			continue
		}
		d, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			continue
		}
		// Date-only precision: the whole publish day counts.
		if d.Add(24 * time.Hour).Before(cutoff) {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

func emit(ctx context.Context, out chan<- model.RawPost, posts []model.RawPost) error {
	for _, p := range posts {
		select {
		case out <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RSSHubFeeds builds the bridge feed list for microblog handles, used when
// no direct-client credentials are available.
func RSSHubFeeds(baseURL string, xs []XSource) []FeedSource {
	feeds := make([]FeedSource, 0, len(xs))
	for _, src := range xs {
		feeds = append(feeds, FeedSource{
			Name: src.Name,
			URL:  fmt.Sprintf("%s/twitter/user/%s", baseURL, src.Handle),
			Type: model.SourceX,
		})
	}
	return feeds
}
