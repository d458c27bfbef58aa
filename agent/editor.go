package agent

import (
	"context"

	"github.com/contentflow/contentflow/types"
)

// Quality gates applied to the edited article.
const (
	minWordCount      = 800
	maxWordCount      = 2000
	maxAvgSentenceLen = 25.0
	readingWPM        = 200
)

// QualityReport is the deterministic post-edit quality assessment.
type QualityReport struct {
	WordCount          int     `json:"word_count"`
	SentenceCount      int     `json:"sentence_count"`
	AvgSentenceLength  float64 `json:"avg_sentence_length"`
	ReadingTimeMinutes float64 `json:"reading_time_minutes"`
	CharacterCount     int     `json:"character_count"`
	MinLengthOK        bool    `json:"min_length_ok"`
	MaxLengthOK        bool    `json:"max_length_ok"`
	SentenceLengthOK   bool    `json:"sentence_length_ok"`
	Score              float64 `json:"score"`
}

// AssessQuality computes the quality report for an article body.
// Score is the fraction of the three checks passed.
func AssessQuality(body string) QualityReport {
	r := QualityReport{
		WordCount:         WordCount(body),
		SentenceCount:     len(Sentences(body)),
		AvgSentenceLength: AvgSentenceLength(body),
		CharacterCount:    len(body),
	}
	r.ReadingTimeMinutes = float64(r.WordCount) / readingWPM
	r.MinLengthOK = r.WordCount >= minWordCount
	r.MaxLengthOK = r.WordCount <= maxWordCount
	r.SentenceLengthOK = r.AvgSentenceLength > 0 && r.AvgSentenceLength <= maxAvgSentenceLen

	passed := 0
	if r.MinLengthOK {
		passed++
	}
	if r.MaxLengthOK {
		passed++
	}
	if r.SentenceLengthOK {
		passed++
	}
	r.Score = float64(passed) / 3
	return r
}

// EditorAgent polishes the draft and attaches a quality report.
type EditorAgent struct {
	base *BaseAgent
}

// NewEditorAgent 创建编辑 agent
func NewEditorAgent(deps Deps, opts Options) *EditorAgent {
	return &EditorAgent{base: newBase("editor", deps, opts)}
}

// Name implements Agent.
func (a *EditorAgent) Name() string { return "editor" }

// Run implements Agent.
func (a *EditorAgent) Run(ctx context.Context, p *types.Project) error {
	title := stringField(p.Draft, "title", p.Topic)
	body := stringField(p.Draft, "body", "")

	doc, cost, err := a.base.complete(ctx, p.ID, "editing", map[string]string{
		"title":         title,
		"body":          body,
		"tone":          metaString(p, "tone", "informative"),
		"editing_focus": metaString(p, "editing_focus", "clarity, flow and concision"),
	})
	if err != nil {
		return err
	}

	editedBody := stringField(doc, "edited_body", body)
	doc["edited_title"] = stringField(doc, "edited_title", title)
	doc["edited_body"] = editedBody
	doc["quality"] = AssessQuality(editedBody)

	p.Edited = doc
	p.AddCost("editing", cost)
	return nil
}
