package write

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/datascout/scout/internal/model"
)

// Record is the compact per-post entry stored in each domain's posts.json.
type Record struct {
	Title        string           `json:"title"`
	Event        string           `json:"event"`
	Date         string           `json:"date"`
	Link         string           `json:"link"`
	SourceName   string           `json:"source_name"`
	SourceType   model.SourceType `json:"source_type"`
	Category     model.Category   `json:"category"`
	Domain       model.Domain     `json:"domain"`
	QualityScore int              `json:"quality_score"`
	Tier         model.Tier       `json:"tier"`
	Entity       string           `json:"entity"`
	File         string           `json:"file"`
}

// Manifest is the batch-level index written last.
type Manifest struct {
	BatchID       string            `json:"batch_id"`
	CreatedAt     string            `json:"created_at"`
	DomainReports map[string]string `json:"domain_reports"`
	Stats         ManifestStats     `json:"stats"`
}

// ManifestStats aggregates the batch.
type ManifestStats struct {
	TotalPosts          int            `json:"total_posts"`
	DomainCount         int            `json:"domain_count"`
	QualityDistribution map[string]int `json:"quality_distribution"`
	TopEntities         map[string]int `json:"top_entities"`
}

// Writer renders organized posts into the output tree. Write may be called
// concurrently; filenames are unique per link so file-level races cannot
// occur, and the index state is mutex-guarded.
type Writer struct {
	outDir   string
	batchID  string
	entities *EntityResolver
	console  io.Writer
	now      func() time.Time

	mu       sync.Mutex
	byDomain map[model.Domain][]Record
	tiers    map[model.Tier]int
	entCount map[string]int
}

// New creates a writer for one batch. batchID is the YYYYMMDD_HHMMSS run
// identifier; console receives the human summary (nil for stdout).
func New(outDir, batchID string, entities *EntityResolver, console io.Writer) *Writer {
	if console == nil {
		console = os.Stdout
	}
	return &Writer{
		outDir:   outDir,
		batchID:  batchID,
		entities: entities,
		console:  console,
		now:      time.Now,
		byDomain: make(map[model.Domain][]Record),
		tiers:    make(map[model.Tier]int),
		entCount: make(map[string]int),
	}
}

// Write implements pipeline.Writer. Per-file I/O failures are logged and
// swallowed; they must not abort the batch.
func (w *Writer) Write(ctx context.Context, post model.OrganizedPost) error {
	tier := model.TierForScore(post.QualityScore)
	entity := w.entities.Resolve(post.SourceName, post.PrimaryEntity)
	filename := Filename(post.Event, post.Date, post.Link)
	body := renderMarkdown(post, entity)

	domainDir := filepath.Join(w.outDir, "By-Domain", string(post.Domain))
	mdPath := filepath.Join(domainDir, string(tier), filename)
	if err := writeFile(mdPath, []byte(body)); err != nil {
		zap.L().Error("write: markdown failed",
			zap.String("path", mdPath),
			zap.Error(err),
		)
		return nil
	}

	// Accepted posts also land in the per-entity tree, as a real copy.
	if tier != model.TierExcluded {
		entityPath := filepath.Join(w.outDir, "By-Entity", SafeName(entity), filename)
		if err := writeFile(entityPath, []byte(body)); err != nil {
			zap.L().Error("write: entity copy failed",
				zap.String("path", entityPath),
				zap.Error(err),
			)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.byDomain[post.Domain] = append(w.byDomain[post.Domain], Record{
		Title:        post.Title,
		Event:        post.Event,
		Date:         post.Date,
		Link:         post.Link,
		SourceName:   post.SourceName,
		SourceType:   post.SourceType,
		Category:     post.Category,
		Domain:       post.Domain,
		QualityScore: post.QualityScore,
		Tier:         tier,
		Entity:       entity,
		File:         filename,
	})
	w.tiers[tier]++
	if tier != model.TierExcluded {
		w.entCount[entity]++
	}
	return nil
}

// Finalize implements pipeline.Writer: per-domain posts.json, then the
// manifest, then the console summary. A manifest failure is fatal to the
// batch.
func (w *Writer) Finalize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	domainReports := make(map[string]string, len(w.byDomain))
	total := 0
	for domain, records := range w.byDomain {
		total += len(records)
		domainReports[string(domain)] = filepath.Join("By-Domain", string(domain))

		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return eris.Wrapf(err, "write: marshal posts.json for %s", domain)
		}
		path := filepath.Join(w.outDir, "By-Domain", string(domain), "posts.json")
		if err := writeFile(path, data); err != nil {
			return eris.Wrapf(err, "write: posts.json for %s", domain)
		}
	}

	manifest := Manifest{
		BatchID:       w.batchID,
		CreatedAt:     w.now().UTC().Format(time.RFC3339),
		DomainReports: domainReports,
		Stats: ManifestStats{
			TotalPosts:  total,
			DomainCount: len(w.byDomain),
			QualityDistribution: map[string]int{
				"high":     w.tiers[model.TierHigh],
				"pending":  w.tiers[model.TierPending],
				"excluded": w.tiers[model.TierExcluded],
			},
			TopEntities: topEntities(w.entCount, 10),
		},
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return eris.Wrap(err, "write: marshal manifest")
	}
	if err := writeFile(filepath.Join(w.outDir, "latest_batch.json"), data); err != nil {
		return eris.Wrap(err, "write: manifest")
	}

	w.printSummary(manifest)
	return nil
}

func (w *Writer) printSummary(m Manifest) {
	fmt.Fprintf(w.console, "\nBatch %s complete: %d posts across %d domains\n",
		m.BatchID, m.Stats.TotalPosts, m.Stats.DomainCount)
	fmt.Fprintf(w.console, "  high: %d  pending: %d  excluded: %d\n",
		m.Stats.QualityDistribution["high"],
		m.Stats.QualityDistribution["pending"],
		m.Stats.QualityDistribution["excluded"],
	)

	domains := make([]string, 0, len(w.byDomain))
	for d := range w.byDomain {
		domains = append(domains, string(d))
	}
	sort.Strings(domains)
	for _, d := range domains {
		fmt.Fprintf(w.console, "  %-22s %d\n", d, len(w.byDomain[model.Domain(d)]))
	}

	if len(m.Stats.TopEntities) > 0 {
		type ec struct {
			name  string
			count int
		}
		ranked := make([]ec, 0, len(m.Stats.TopEntities))
		for name, count := range m.Stats.TopEntities {
			ranked = append(ranked, ec{name, count})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].count != ranked[j].count {
				return ranked[i].count > ranked[j].count
			}
			return ranked[i].name < ranked[j].name
		})
		fmt.Fprint(w.console, "  top entities:")
		for _, e := range ranked {
			fmt.Fprintf(w.console, " %s(%d)", e.name, e.count)
		}
		fmt.Fprintln(w.console)
	}
}

func topEntities(counts map[string]int, n int) map[string]int {
	type ec struct {
		name  string
		count int
	}
	ranked := make([]ec, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, ec{name, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].name < ranked[j].name
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	top := make(map[string]int, len(ranked))
	for _, e := range ranked {
		top[e.name] = e.count
	}
	return top
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "create dir")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "write file")
	}
	return nil
}

// SafeName mirrors the snapshot naming rule for entity directories.
func SafeName(name string) string {
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
