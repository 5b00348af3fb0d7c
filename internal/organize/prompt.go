// Package organize implements the third pipeline stage: LLM classification
// and scoring of enriched posts.
package organize

import (
	"os"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"

	"github.com/datascout/scout/internal/model"
)

// DefaultPromptTemplate is used when no template file is configured. It
// demands strict JSON so the reply parses without prose stripping.
const DefaultPromptTemplate = `You are an analyst for a Data & AI industry intelligence service.
Analyze the post below and reply with ONLY a JSON object, no other text.

If the post has no analyzable technology content (pure ads, greetings,
lifestyle), reply exactly: {"skip": true}

Otherwise reply with this schema:
{
  "event": "one-line summary of what happened",
  "key_info": "the key facts, 2-3 sentences",
  "detail": "a fuller account in markdown",
  "category": "one of: tech-release, product-update, opinion, business, tech-event, customer-case, recruitment-ad, other",
  "domain": "one of: llm-tech-products, data-platforms, ai-platforms, agent-platforms, code-agents, data-agents, vertical-agents, embodied-ai, other",
  "quality_score": 1-5,
  "quality_reason": "why you scored it that way",
  "primary_entity": "the company or person the post is mainly about"
}

Post to analyze:
Title: {{.Title}}
Date: {{.Date}}
Link: {{.Link}}
Source type: {{.SourceType}}
Content:
{{.Content}}
{{if .ExtraContent}}
Linked content:
{{.ExtraContent}}
{{end}}`

// LoadTemplate reads and compiles the prompt template file at path. An
// empty path selects the built-in template.
func LoadTemplate(path string) (*template.Template, error) {
	if path == "" {
		return ParseTemplate("")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "organize: read prompt template %s", path)
	}
	return ParseTemplate(string(data))
}

// ParseTemplate compiles a prompt template, falling back to the built-in
// one when text is empty.
func ParseTemplate(text string) (*template.Template, error) {
	if text == "" {
		text = DefaultPromptTemplate
	}
	tmpl, err := template.New("prompt").Parse(text)
	if err != nil {
		return nil, eris.Wrap(err, "organize: parse prompt template")
	}
	return tmpl, nil
}

func renderPrompt(tmpl *template.Template, post model.EnrichedPost) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, post); err != nil {
		return "", eris.Wrap(err, "organize: render prompt")
	}
	return sb.String(), nil
}
