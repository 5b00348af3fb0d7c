// Package model defines the post records flowing through the pipeline and
// the closed classification sets produced by the LLM organizer.
package model

// SourceType identifies the upstream family a post was fetched from.
type SourceType string

const (
	SourceWeixin  SourceType = "weixin"
	SourceX       SourceType = "x"
	SourceYouTube SourceType = "youtube"
	SourceWeb     SourceType = "web"
)

// RawPost is a normalized feed entry emitted by the fetch stage.
// Date is the publish date as YYYY-MM-DD; Content is the entry's HTML or
// plain-text body after the per-family content/description normalization.
type RawPost struct {
	Title      string     `json:"title"`
	Date       string     `json:"date"`
	Link       string     `json:"link"`
	FeedURL    string     `json:"rss_url"`
	SourceType SourceType `json:"source_type"`
	SourceName string     `json:"source_name"`
	Content    string     `json:"content"`
}

// EnrichedPost augments a RawPost with the full text of embedded resources
// (article bodies, video transcripts) and the outbound URLs found in the
// content. ExtraURLs preserves first-occurrence order with duplicates removed.
type EnrichedPost struct {
	RawPost
	ExtraContent string   `json:"extra_content"`
	ExtraURLs    []string `json:"extra_urls"`
}

// OrganizedPost is an EnrichedPost after LLM classification and scoring.
type OrganizedPost struct {
	EnrichedPost
	Event         string   `json:"event"`
	KeyInfo       string   `json:"key_info"`
	Detail        string   `json:"detail"`
	Category      Category `json:"category"`
	Domain        Domain   `json:"domain"`
	QualityScore  int      `json:"quality_score"`
	QualityReason string   `json:"quality_reason"`
	PrimaryEntity string   `json:"primary_entity,omitempty"`
}

// Category is the closed event-classification set.
type Category string

const (
	CategoryTechRelease   Category = "tech-release"
	CategoryProductUpdate Category = "product-update"
	CategoryOpinion       Category = "opinion"
	CategoryBusiness      Category = "business"
	CategoryTechEvent     Category = "tech-event"
	CategoryCustomerCase  Category = "customer-case"
	CategoryRecruitment   Category = "recruitment-ad"
	CategoryOther         Category = "other"
)

// Domain is the closed topic-domain set.
type Domain string

const (
	DomainLLMTech        Domain = "llm-tech-products"
	DomainDataPlatforms  Domain = "data-platforms"
	DomainAIPlatforms    Domain = "ai-platforms"
	DomainAgentPlatforms Domain = "agent-platforms"
	DomainCodeAgents     Domain = "code-agents"
	DomainDataAgents     Domain = "data-agents"
	DomainVerticalAgents Domain = "vertical-agents"
	DomainEmbodiedAI     Domain = "embodied-ai"
	DomainOther          Domain = "other"
)

var categories = map[Category]struct{}{
	CategoryTechRelease:   {},
	CategoryProductUpdate: {},
	CategoryOpinion:       {},
	CategoryBusiness:      {},
	CategoryTechEvent:     {},
	CategoryCustomerCase:  {},
	CategoryRecruitment:   {},
	CategoryOther:         {},
}

var domains = map[Domain]struct{}{
	DomainLLMTech:        {},
	DomainDataPlatforms:  {},
	DomainAIPlatforms:    {},
	DomainAgentPlatforms: {},
	DomainCodeAgents:     {},
	DomainDataAgents:     {},
	DomainVerticalAgents: {},
	DomainEmbodiedAI:     {},
	DomainOther:          {},
}

// NormalizeCategory coerces any value outside the closed set to "other".
func NormalizeCategory(s string) Category {
	if _, ok := categories[Category(s)]; ok {
		return Category(s)
	}
	return CategoryOther
}

// NormalizeDomain coerces any value outside the closed set to "other".
func NormalizeDomain(s string) Domain {
	if _, ok := domains[Domain(s)]; ok {
		return Domain(s)
	}
	return DomainOther
}

// Tier is the quality bucket derived from the 1-5 quality score.
type Tier string

const (
	TierHigh     Tier = "high"
	TierPending  Tier = "pending"
	TierExcluded Tier = "excluded"
)

// TierForScore maps a quality score onto its tier: >=4 high, 2-3 pending,
// <=1 excluded.
func TierForScore(score int) Tier {
	switch {
	case score >= 4:
		return TierHigh
	case score >= 2:
		return TierPending
	default:
		return TierExcluded
	}
}

// Tiers lists all tiers in directory-creation order.
func Tiers() []Tier {
	return []Tier{TierHigh, TierPending, TierExcluded}
}

// ClampScore forces a quality score into the valid [1,5] range.
func ClampScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 5 {
		return 5
	}
	return score
}
