package agent

import (
	"context"

	"github.com/contentflow/contentflow/types"
)

// ContentAgent drafts the article from the research document.
type ContentAgent struct {
	base *BaseAgent
}

// NewContentAgent 创建写作 agent
func NewContentAgent(deps Deps, opts Options) *ContentAgent {
	return &ContentAgent{base: newBase("content", deps, opts)}
}

// Name implements Agent.
func (a *ContentAgent) Name() string { return "content" }

// Run implements Agent.
func (a *ContentAgent) Run(ctx context.Context, p *types.Project) error {
	doc, cost, err := a.base.complete(ctx, p.ID, "generation", map[string]string{
		"topic":      p.Topic,
		"research":   compactJSON(p.Research),
		"word_count": metaString(p, "word_count", "1200"),
		"tone":       metaString(p, "tone", "informative"),
	})
	if err != nil {
		return err
	}

	// 非结构化兜底时没有 title/body，用可用内容补齐
	if _, ok := doc["title"]; !ok {
		doc["title"] = p.Topic
	}
	if _, ok := doc["body"]; !ok {
		doc["body"] = stringField(doc, "overview", "")
	}

	p.Draft = doc
	p.AddCost("generation", cost)
	return nil
}
