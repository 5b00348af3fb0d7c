package organize

import (
	"context"
	"encoding/json"
	"strings"
	"text/template"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/datascout/scout/internal/model"
	"github.com/datascout/scout/internal/resilience"
	"github.com/datascout/scout/pkg/llm"
)

// Config controls the stage.
type Config struct {
	Model string

	// PromptTemplatePath names a template file that overrides the
	// built-in prompt when non-empty.
	PromptTemplatePath string

	// MaxInFlight caps concurrent LLM requests across all workers.
	// Default 10.
	MaxInFlight int64
}

// Stage classifies posts through the LLM. Worker-pool fan-out happens in
// the pipeline; the stage itself enforces the global in-flight cap.
type Stage struct {
	client llm.Client
	model  string
	tmpl   *template.Template
	sem    *semaphore.Weighted
	retry  resilience.RetryConfig
}

// New creates the organize stage.
func New(client llm.Client, cfg Config) (*Stage, error) {
	tmpl, err := LoadTemplate(cfg.PromptTemplatePath)
	if err != nil {
		return nil, err
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 10
	}
	return &Stage{
		client: client,
		model:  cfg.Model,
		tmpl:   tmpl,
		sem:    semaphore.NewWeighted(cfg.MaxInFlight),
		retry: resilience.RetryConfig{
			// Initial call plus three retries.
			MaxAttempts:    4,
			InitialBackoff: 3 * time.Second,
			MaxBackoff:     3 * time.Second,
			Multiplier:     1,
			JitterFraction: 0,
			// Empty replies and malformed JSON retry alongside
			// transport failures.
			ShouldRetry: func(error) bool { return true },
			OnRetry:     resilience.RetryLogger("llm", "organize"),
		},
	}, nil
}

// reply is the JSON contract the prompt demands.
type reply struct {
	Skip          bool   `json:"skip"`
	Event         string `json:"event"`
	KeyInfo       string `json:"key_info"`
	Detail        string `json:"detail"`
	Category      string `json:"category"`
	Domain        string `json:"domain"`
	QualityScore  int    `json:"quality_score"`
	QualityReason string `json:"quality_reason"`
	PrimaryEntity string `json:"primary_entity"`
}

// Organize implements pipeline.Organizer. ok=false means the LLM marked
// the post as having nothing to analyze.
func (s *Stage) Organize(ctx context.Context, post model.EnrichedPost) (model.OrganizedPost, bool, error) {
	prompt, err := renderPrompt(s.tmpl, post)
	if err != nil {
		return model.OrganizedPost{}, false, err
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return model.OrganizedPost{}, false, eris.Wrap(err, "organize: acquire slot")
	}
	defer s.sem.Release(1)

	parsed, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (reply, error) {
		resp, err := s.client.Complete(ctx, llm.Request{
			Model:  s.model,
			Prompt: prompt,
		})
		if err != nil {
			return reply{}, err
		}
		resp.Usage.LogUsage(s.model, "organize")
		return parseReply(resp.Text)
	})
	if err != nil {
		return model.OrganizedPost{}, false, eris.Wrapf(err, "organize: %s", post.Title)
	}

	if parsed.Skip {
		zap.L().Debug("organize: post skipped by model",
			zap.String("title", post.Title),
			zap.String("source", post.SourceName),
		)
		return model.OrganizedPost{}, false, nil
	}

	return model.OrganizedPost{
		EnrichedPost:  post,
		Event:         parsed.Event,
		KeyInfo:       parsed.KeyInfo,
		Detail:        parsed.Detail,
		Category:      model.NormalizeCategory(parsed.Category),
		Domain:        model.NormalizeDomain(parsed.Domain),
		QualityScore:  model.ClampScore(parsed.QualityScore),
		QualityReason: parsed.QualityReason,
		PrimaryEntity: parsed.PrimaryEntity,
	}, true, nil
}

// parseReply extracts the JSON object from the model's reply, tolerating
// markdown code fences and surrounding prose.
func parseReply(text string) (reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return reply{}, eris.New("organize: empty reply")
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return reply{}, eris.New("organize: no JSON object in reply")
	}

	var r reply
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return reply{}, eris.Wrap(err, "organize: decode reply")
	}
	if !r.Skip && r.Event == "" {
		return reply{}, eris.New("organize: reply missing event field")
	}
	return r, nil
}
