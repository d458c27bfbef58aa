package agent

import (
	"context"
	"strings"
	"unicode"

	"github.com/contentflow/contentflow/types"
)

// Review verdicts.
const (
	VerdictApproved    = "approved"
	VerdictRevision    = "needs_revision"
	VerdictHumanReview = "needs_human_review"
	VerdictRejected    = "rejected"
)

// Dimension weights for the overall review score.
var reviewWeights = map[string]float64{
	"plagiarism":  0.25,
	"grammar":     0.20,
	"readability": 0.15,
	"seo":         0.15,
	"brand_voice": 0.10,
	"safety":      0.15,
}

// ReviewScores holds per-dimension scores in [0,1] plus the weighted overall.
type ReviewScores struct {
	Plagiarism  float64 `json:"plagiarism"`
	Grammar     float64 `json:"grammar"`
	Readability float64 `json:"readability"`
	SEO         float64 `json:"seo"`
	BrandVoice  float64 `json:"brand_voice"`
	Safety      float64 `json:"safety"`
	Overall     float64 `json:"overall"`
}

// QAAgent runs the deterministic pre-publication review. It makes no model
// calls: every dimension is computed from the article itself, so the verdict
// is reproducible and free.
type QAAgent struct {
	name string
}

// NewQAAgent 创建质检 agent
func NewQAAgent() *QAAgent {
	return &QAAgent{name: "qa"}
}

// Name implements Agent.
func (a *QAAgent) Name() string { return a.name }

// Run implements Agent.
func (a *QAAgent) Run(ctx context.Context, p *types.Project) error {
	body := stringField(p.SEO, "optimized_body", "")
	if body == "" {
		body = stringField(p.Edited, "edited_body", "")
	}

	// BSON 解码会把整数还原成 int32/int64
	seoScore := 0.5
	switch v := p.SEO["score"].(type) {
	case int:
		seoScore = float64(v) / 100
	case int32:
		seoScore = float64(v) / 100
	case int64:
		seoScore = float64(v) / 100
	case float64:
		seoScore = v / 100
	}

	scores := Review(body, seoScore)
	verdict := Verdict(scores)

	p.Review = map[string]any{
		"scores":  scores,
		"verdict": verdict,
	}
	if verdict == VerdictRejected {
		return types.NewError(types.ErrQualityRejected, "article rejected by quality review").
			WithStage("review")
	}
	return nil
}

// Review scores an article body across all dimensions.
func Review(body string, seoScore float64) ReviewScores {
	s := ReviewScores{
		Plagiarism:  originalityScore(body),
		Grammar:     grammarScore(body),
		Readability: clamp01(FleschScore(body) / 100),
		SEO:         clamp01(seoScore),
		BrandVoice:  brandVoiceScore(body),
		Safety:      safetyScore(body),
	}
	s.Overall = s.Plagiarism*reviewWeights["plagiarism"] +
		s.Grammar*reviewWeights["grammar"] +
		s.Readability*reviewWeights["readability"] +
		s.SEO*reviewWeights["seo"] +
		s.BrandVoice*reviewWeights["brand_voice"] +
		s.Safety*reviewWeights["safety"]
	return s
}

// Verdict applies the decision rules:
// safety < 0.7 or plagiarism < 0.8 rejects outright, overall < 0.7 goes to
// human review, overall < 0.8 needs revision, anything else is approved.
func Verdict(s ReviewScores) string {
	switch {
	case s.Safety < 0.7 || s.Plagiarism < 0.8:
		return VerdictRejected
	case s.Overall < 0.7:
		return VerdictHumanReview
	case s.Overall < 0.8:
		return VerdictRevision
	default:
		return VerdictApproved
	}
}

// originalityScore 用 8 词瓦片的去重率近似原创度：
// 大段自我重复会显著压低得分。
func originalityScore(body string) float64 {
	words := strings.Fields(strings.ToLower(markdownNoiseRe.ReplaceAllString(body, " ")))
	const shingle = 8
	if len(words) < shingle {
		return 1
	}

	seen := make(map[string]struct{})
	total := 0
	unique := 0
	for i := 0; i+shingle <= len(words); i++ {
		key := strings.Join(words[i:i+shingle], " ")
		total++
		if _, dup := seen[key]; !dup {
			unique++
			seen[key] = struct{}{}
		}
	}
	return float64(unique) / float64(total)
}

// grammarScore 以句子形态良好率近似语法质量：
// 首字母大写、长度不超过 60 词的句子视为良好。
func grammarScore(body string) float64 {
	sentences := Sentences(body)
	if len(sentences) == 0 {
		return 0
	}
	good := 0
	for _, s := range sentences {
		runes := []rune(s)
		wellFormed := unicode.IsUpper(runes[0]) || unicode.IsDigit(runes[0])
		if len(strings.Fields(s)) > 60 {
			wellFormed = false
		}
		if wellFormed {
			good++
		}
	}
	return float64(good) / float64(len(sentences))
}

// fillerPhrases 每出现一次扣 0.15
var fillerPhrases = []string{
	"in conclusion,",
	"it goes without saying",
	"at the end of the day",
	"needless to say",
	"in today's fast-paced world",
}

func brandVoiceScore(body string) float64 {
	lower := strings.ToLower(body)
	score := 1.0
	for _, phrase := range fillerPhrases {
		score -= 0.15 * float64(strings.Count(lower, phrase))
	}
	return clamp01(score)
}

// flaggedTerms 每出现一次扣 0.3
var flaggedTerms = []string{
	"graphic violence",
	"explicit content",
	"hate speech",
	"self-harm",
}

func safetyScore(body string) float64 {
	lower := strings.ToLower(body)
	score := 1.0
	for _, term := range flaggedTerms {
		score -= 0.3 * float64(strings.Count(lower, term))
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
