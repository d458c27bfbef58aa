package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/contentflow/contentflow/types"
)

// ResearchAgent gathers background material for a topic: overview, key
// points, statistics, expert opinions and sources. Briefs are cached per
// topic and audience, so repeated projects on the same subject skip the
// model call entirely.
type ResearchAgent struct {
	base *BaseAgent
}

// NewResearchAgent 创建调研 agent
func NewResearchAgent(deps Deps, opts Options) *ResearchAgent {
	return &ResearchAgent{base: newBase("research", deps, opts)}
}

// Name implements Agent.
func (a *ResearchAgent) Name() string { return "research" }

// Run implements Agent.
func (a *ResearchAgent) Run(ctx context.Context, p *types.Project) error {
	audience := metaString(p, "audience", "a general technical audience")
	key := researchCacheKey(p.Topic, audience)

	if a.base.deps.Cache != nil {
		var cached map[string]any
		if err := a.base.deps.Cache.GetJSON(ctx, key, &cached); err == nil {
			a.base.logger.Info("research brief served from cache",
				zap.String("project_id", p.ID),
				zap.String("topic", p.Topic),
			)
			p.Research = cached
			return nil
		}
	}

	doc, cost, err := a.base.complete(ctx, p.ID, "research", map[string]string{
		"topic":    p.Topic,
		"audience": audience,
	})
	if err != nil {
		return err
	}

	if a.base.deps.Cache != nil {
		if err := a.base.deps.Cache.SetJSON(ctx, key, doc); err != nil {
			a.base.logger.Warn("failed to cache research brief", zap.Error(err))
		}
	}

	p.Research = doc
	p.AddCost("research", cost)
	return nil
}

// researchCacheKey 对 topic+audience 做哈希，避免键里出现空格和特殊字符
func researchCacheKey(topic, audience string) string {
	sum := sha256.Sum256([]byte(topic + "\x00" + audience))
	return "research:" + hex.EncodeToString(sum[:16])
}
