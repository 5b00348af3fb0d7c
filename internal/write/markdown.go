package write

import (
	"fmt"
	"strings"

	"github.com/datascout/scout/internal/model"
)

// renderMarkdown lays out one post: title, metadata bullets, the model's
// key info and detail, then any enriched content and external links.
func renderMarkdown(post model.OrganizedPost, entity string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", post.Event)

	fmt.Fprintf(&b, "- **Date**: %s\n", post.Date)
	fmt.Fprintf(&b, "- **Source**: %s (%s)\n", post.SourceName, post.SourceType)
	if post.Link != "" {
		fmt.Fprintf(&b, "- **Link**: %s\n", post.Link)
	}
	fmt.Fprintf(&b, "- **Category**: %s\n", post.Category)
	fmt.Fprintf(&b, "- **Domain**: %s\n", post.Domain)
	fmt.Fprintf(&b, "- **Entity**: %s\n", entity)
	fmt.Fprintf(&b, "- **Quality**: %s (%d/5): %s\n", stars(post.QualityScore), post.QualityScore, post.QualityReason)

	if post.KeyInfo != "" {
		fmt.Fprintf(&b, "\n## Key Info\n\n%s\n", post.KeyInfo)
	}
	if post.Detail != "" {
		fmt.Fprintf(&b, "\n## Details\n\n%s\n", post.Detail)
	}
	if post.ExtraContent != "" {
		fmt.Fprintf(&b, "\n## Extra Content\n\n%s\n", post.ExtraContent)
	}
	if len(post.ExtraURLs) > 0 {
		b.WriteString("\n## External Links\n\n")
		for _, u := range post.ExtraURLs {
			fmt.Fprintf(&b, "- %s\n", u)
		}
	}

	return b.String()
}

func stars(score int) string {
	if score < 0 {
		score = 0
	}
	if score > 5 {
		score = 5
	}
	return strings.Repeat("★", score) + strings.Repeat("☆", 5-score)
}
