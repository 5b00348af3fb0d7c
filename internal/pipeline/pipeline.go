// Package pipeline wires the four stages (fetch, enrich, organize, write)
// through bounded queues and runs one batch end to end.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/datascout/scout/internal/model"
)

// Fetcher produces normalized raw posts onto out. It returns once every
// configured source has been attempted; per-source failures are logged and
// skipped, they never fail the stage.
type Fetcher interface {
	Fetch(ctx context.Context, out chan<- model.RawPost) error
}

// Enricher expands one raw post with linked-resource content. A failed
// enrichment still returns a usable post: the raw content flows through
// with empty extras.
type Enricher interface {
	Enrich(ctx context.Context, post model.RawPost) (model.EnrichedPost, error)
}

// Organizer classifies and scores one enriched post. ok=false means the
// post was deliberately skipped (no analyzable content).
type Organizer interface {
	Organize(ctx context.Context, post model.EnrichedPost) (organized model.OrganizedPost, ok bool, err error)
}

// Writer persists organized posts and produces the batch output tree on
// Finalize.
type Writer interface {
	Write(ctx context.Context, post model.OrganizedPost) error
	Finalize(ctx context.Context) error
}

// Config sizes the queues and worker pools.
type Config struct {
	QueueSize       int
	EnrichWorkers   int
	OrganizeWorkers int
}

// Stats counts posts as they move through a run.
type Stats struct {
	Fetched   atomic.Int64
	Enriched  atomic.Int64
	Organized atomic.Int64
	Skipped   atomic.Int64
	Failed    atomic.Int64
	Written   atomic.Int64
}

// Pipeline runs one batch.
type Pipeline struct {
	cfg       Config
	fetcher   Fetcher
	enricher  Enricher
	organizer Organizer
	writer    Writer

	stats Stats
}

// New assembles a pipeline. Zero or negative config values fall back to
// the defaults (queue 1000, 5 workers per pool).
func New(cfg Config, f Fetcher, e Enricher, o Organizer, w Writer) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.EnrichWorkers <= 0 {
		cfg.EnrichWorkers = 5
	}
	if cfg.OrganizeWorkers <= 0 {
		cfg.OrganizeWorkers = 5
	}
	return &Pipeline{cfg: cfg, fetcher: f, enricher: e, organizer: o, writer: w}
}

// Stats exposes the run counters.
func (p *Pipeline) Stats() *Stats {
	return &p.stats
}

// Run executes one batch. Consumers are started before their producers so
// every queue has a reader by the time the first post arrives; each stage
// drains its inbound queue fully, then closes its outbound queue to signal
// the next stage. Cancelling ctx (an interrupt) stops only the fetch
// stage; everything already queued drains through the downstream stages
// and the manifest is still written. A fatal downstream error cancels
// fetch too and fails the run.
func (p *Pipeline) Run(ctx context.Context) error {
	log := zap.L()
	start := time.Now()

	rawQ := make(chan model.RawPost, p.cfg.QueueSize)
	enrichedQ := make(chan model.EnrichedPost, p.cfg.QueueSize)
	organizedQ := make(chan model.OrganizedPost, p.cfg.QueueSize)

	fetchCtx, stopFetch := context.WithCancel(ctx)
	defer stopFetch()

	// The downstream group deliberately does not inherit ctx: its workers
	// run to queue closure. gCtx only trips on a fatal stage error, which
	// must also stop the producer.
	g, gCtx := errgroup.WithContext(context.Background())
	unhook := context.AfterFunc(gCtx, stopFetch)
	defer unhook()

	// Write stage: single consumer, keeps output ordering deterministic
	// within the batch directory.
	g.Go(func() error {
		for post := range organizedQ {
			if err := p.writer.Write(gCtx, post); err != nil {
				return eris.Wrap(err, "pipeline: write post")
			}
			p.stats.Written.Add(1)
		}
		return nil
	})

	// Organize stage.
	organizeG, organizeCtx := errgroup.WithContext(gCtx)
	for i := 0; i < p.cfg.OrganizeWorkers; i++ {
		organizeG.Go(func() error {
			for post := range enrichedQ {
				organized, ok, err := p.organizer.Organize(organizeCtx, post)
				if err != nil {
					p.stats.Failed.Add(1)
					log.Warn("pipeline: organize failed, dropping post",
						zap.String("title", post.Title),
						zap.String("source", post.SourceName),
						zap.Error(err),
					)
					continue
				}
				if !ok {
					p.stats.Skipped.Add(1)
					continue
				}
				p.stats.Organized.Add(1)
				select {
				case organizedQ <- organized:
				case <-organizeCtx.Done():
					return organizeCtx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(organizedQ)
		return organizeG.Wait()
	})

	// Enrich stage.
	enrichG, enrichCtx := errgroup.WithContext(gCtx)
	for i := 0; i < p.cfg.EnrichWorkers; i++ {
		enrichG.Go(func() error {
			for post := range rawQ {
				p.stats.Fetched.Add(1)
				enriched, err := p.enricher.Enrich(enrichCtx, post)
				if err != nil {
					// The post still carries its feed content.
					log.Warn("pipeline: enrich failed, passing post through",
						zap.String("title", post.Title),
						zap.String("source", post.SourceName),
						zap.Error(err),
					)
					enriched = model.EnrichedPost{RawPost: post}
				}
				p.stats.Enriched.Add(1)
				select {
				case enrichedQ <- enriched:
				case <-enrichCtx.Done():
					return enrichCtx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(enrichedQ)
		return enrichG.Wait()
	})

	// Fetch stage: last to start, first to finish. Closing rawQ is the
	// shutdown signal that drains through the rest of the pipeline. An
	// interrupt surfaces here as fetchCtx cancellation; the batch keeps
	// whatever was fetched.
	g.Go(func() error {
		defer close(rawQ)
		if err := p.fetcher.Fetch(fetchCtx, rawQ); err != nil {
			if ctx.Err() != nil {
				log.Info("pipeline: fetch interrupted, draining queued posts")
				return nil
			}
			return eris.Wrap(err, "pipeline: fetch stage")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if err := p.writer.Finalize(context.WithoutCancel(ctx)); err != nil {
		return eris.Wrap(err, "pipeline: finalize batch")
	}

	log.Info("pipeline: batch complete",
		zap.Int64("fetched", p.stats.Fetched.Load()),
		zap.Int64("enriched", p.stats.Enriched.Load()),
		zap.Int64("organized", p.stats.Organized.Load()),
		zap.Int64("skipped", p.stats.Skipped.Load()),
		zap.Int64("failed", p.stats.Failed.Load()),
		zap.Int64("written", p.stats.Written.Load()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
