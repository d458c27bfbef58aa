package agent

import (
	"context"
	"strings"

	"github.com/contentflow/contentflow/types"
)

// SEO score thresholds.
const (
	// SEOPassScore 达到即视为优化通过
	SEOPassScore = 70
	// SEOAutoPublishScore 达到才允许自动发布
	SEOAutoPublishScore = 80
)

// SEOBreakdown 单项评分明细
type SEOBreakdown struct {
	KeywordInTitle    int `json:"keyword_in_title"`
	TitleLength       int `json:"title_length"`
	KeywordDensity    int `json:"keyword_density"`
	WordCount         int `json:"word_count"`
	Headings          int `json:"headings"`
	AvgSentenceLength int `json:"avg_sentence_length"`
}

// ScoreSEO computes the deterministic 0-100 SEO score:
//   - keyword present in title: 20
//   - title length 50-60 chars: 15
//   - keyword density 1-3%: 20, near range (0.5-1% or 3-4%): 10
//   - body word count 800-2000: 15, at least 600: 10
//   - has H1 and H2 headings: 15, only one of them: 8
//   - average sentence length 15-20 words: 15, near range (10-15 or 20-25): 10
func ScoreSEO(title, body, keyword string) (int, SEOBreakdown) {
	var b SEOBreakdown

	if keyword != "" && containsFold(title, keyword) {
		b.KeywordInTitle = 20
	}
	if n := len(title); n >= 50 && n <= 60 {
		b.TitleLength = 15
	}

	switch d := KeywordDensity(body, keyword); {
	case d >= 1 && d <= 3:
		b.KeywordDensity = 20
	case (d >= 0.5 && d < 1) || (d > 3 && d <= 4):
		b.KeywordDensity = 10
	}

	switch wc := WordCount(body); {
	case wc >= 800 && wc <= 2000:
		b.WordCount = 15
	case wc >= 600:
		b.WordCount = 10
	}

	switch {
	case HasH1AndH2(body):
		b.Headings = 15
	case HasH1(body) || HasH2(body):
		b.Headings = 8
	}

	switch avg := AvgSentenceLength(body); {
	case avg >= 15 && avg <= 20:
		b.AvgSentenceLength = 15
	case (avg >= 10 && avg < 15) || (avg > 20 && avg <= 25):
		b.AvgSentenceLength = 10
	}

	total := b.KeywordInTitle + b.TitleLength + b.KeywordDensity +
		b.WordCount + b.Headings + b.AvgSentenceLength
	return total, b
}

// SEOAgent rewrites the article around the primary keyword and scores it.
type SEOAgent struct {
	base *BaseAgent
}

// NewSEOAgent 创建 SEO agent
func NewSEOAgent(deps Deps, opts Options) *SEOAgent {
	return &SEOAgent{base: newBase("seo", deps, opts)}
}

// Name implements Agent.
func (a *SEOAgent) Name() string { return "seo" }

// Run implements Agent.
func (a *SEOAgent) Run(ctx context.Context, p *types.Project) error {
	title := stringField(p.Edited, "edited_title", p.Topic)
	body := stringField(p.Edited, "edited_body", "")
	keyword := p.PrimaryKeyword()
	if keyword == "" {
		keyword = p.Topic
	}

	doc, cost, err := a.base.complete(ctx, p.ID, "seo_optimization", map[string]string{
		"keyword": keyword,
		"title":   title,
		"body":    body,
	})
	if err != nil {
		return err
	}

	optTitle := stringField(doc, "optimized_title", title)
	optBody := stringField(doc, "optimized_body", body)
	score, breakdown := ScoreSEO(optTitle, optBody, keyword)

	doc["optimized_title"] = optTitle
	doc["optimized_body"] = optBody
	doc["keyword"] = keyword
	doc["score"] = score
	doc["breakdown"] = breakdown
	doc["passed"] = score >= SEOPassScore

	p.SEO = doc
	p.AddCost("seo_optimization", cost)
	return nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
