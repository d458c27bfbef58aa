package agent

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/config"
	"github.com/contentflow/contentflow/types"
)

// =============================================================================
// 📤 发布 agent
// =============================================================================
// 按平台格式化最终稿并投递到配置的 endpoint。
// DryRun 或未配置 endpoint 时只格式化不投递。
// =============================================================================

// supportedPlatforms 支持的发布平台
var supportedPlatforms = map[string]bool{
	"wordpress": true,
	"medium":    true,
	"twitter":   true,
	"linkedin":  true,
	"email":     true,
}

const twitterLimit = 280

// article is the final copy handed to the platform formatters.
type article struct {
	Title    string
	Body     string
	Summary  string
	Slug     string
	MetaDesc string
	Keyword  string
}

// PublisherAgent formats and delivers the approved article.
type PublisherAgent struct {
	config config.PublisherConfig
	client *http.Client
	logger *zap.Logger
}

// NewPublisherAgent 创建发布 agent
func NewPublisherAgent(cfg config.PublisherConfig, logger *zap.Logger) *PublisherAgent {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PublisherAgent{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("agent", "publisher")),
	}
}

// Name implements Agent.
func (a *PublisherAgent) Name() string { return "publisher" }

// Run implements Agent.
func (a *PublisherAgent) Run(ctx context.Context, p *types.Project) error {
	art := finalArticle(p)
	platforms := targetPlatforms(p)

	published := make(map[string]any, len(platforms))
	var failures []string

	for _, platform := range platforms {
		payload, err := FormatForPlatform(platform, art)
		if err != nil {
			p.AddError("publishing", err)
			failures = append(failures, platform)
			continue
		}

		result := map[string]any{"payload": payload, "delivered": false}
		endpoint := a.config.Endpoints[platform]

		switch {
		case a.config.DryRun || endpoint == "":
			result["dry_run"] = true
		default:
			status, err := a.deliver(ctx, endpoint, payload)
			if err != nil {
				a.logger.Warn("delivery failed",
					zap.String("platform", platform),
					zap.String("project_id", p.ID),
					zap.Error(err),
				)
				p.AddError("publishing", err)
				failures = append(failures, platform)
				result["error"] = err.Error()
			} else {
				result["delivered"] = true
				result["status_code"] = status
			}
		}
		published[platform] = result
	}

	p.Published = published
	if len(failures) == len(platforms) && len(platforms) > 0 {
		return types.NewError(types.ErrPublishFailed,
			fmt.Sprintf("all platforms failed: %s", strings.Join(failures, ", "))).
			WithStage("publishing").
			WithRetryable(true)
	}
	return nil
}

func (a *PublisherAgent) deliver(ctx context.Context, endpoint, payload string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte(payload)))
	if err != nil {
		return 0, types.NewError(types.ErrPublishFailed, "failed to build publish request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, types.NewError(types.ErrPublishFailed, "publish request failed").
			WithCause(err).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, types.NewError(types.ErrPublishFailed,
			fmt.Sprintf("platform returned %d", resp.StatusCode)).
			WithRetryable(resp.StatusCode >= 500)
	}
	return resp.StatusCode, nil
}

// FormatForPlatform builds the platform-specific JSON payload.
func FormatForPlatform(platform string, art article) (string, error) {
	switch platform {
	case "wordpress":
		return formatWordPress(art)
	case "medium":
		return formatMedium(art)
	case "twitter":
		return formatTwitter(art)
	case "linkedin":
		return formatLinkedIn(art)
	case "email":
		return formatEmail(art)
	default:
		return "", types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unsupported platform: %s", platform))
	}
}

func formatWordPress(art article) (string, error) {
	payload := "{}"
	for _, kv := range []struct {
		key string
		val any
	}{
		{"title", art.Title},
		{"content", art.Body},
		{"slug", art.Slug},
		{"excerpt", art.MetaDesc},
		{"status", "publish"},
	} {
		var err error
		if payload, err = sjson.Set(payload, kv.key, kv.val); err != nil {
			return "", err
		}
	}
	return payload, nil
}

func formatMedium(art article) (string, error) {
	payload, err := sjson.Set("{}", "title", art.Title)
	if err != nil {
		return "", err
	}
	payload, _ = sjson.Set(payload, "contentFormat", "markdown")
	payload, _ = sjson.Set(payload, "content", art.Body)
	payload, _ = sjson.Set(payload, "publishStatus", "public")
	if art.Keyword != "" {
		payload, _ = sjson.Set(payload, "tags.0", art.Keyword)
	}
	return payload, nil
}

// formatTwitter 将摘要拆成不超过 280 字符的推文串，最多 5 条
func formatTwitter(art article) (string, error) {
	text := art.Title
	if art.Summary != "" {
		text += "\n\n" + art.Summary
	}

	tweets := splitThread(text, twitterLimit, 5)
	payload := "{}"
	for i, tweet := range tweets {
		var err error
		if payload, err = sjson.Set(payload, fmt.Sprintf("thread.%d", i), tweet); err != nil {
			return "", err
		}
	}
	return payload, nil
}

func formatLinkedIn(art article) (string, error) {
	commentary := art.Title
	if art.Summary != "" {
		commentary += "\n\n" + art.Summary
	}
	payload, err := sjson.Set("{}", "commentary", commentary)
	if err != nil {
		return "", err
	}
	payload, _ = sjson.Set(payload, "visibility", "PUBLIC")
	return payload, nil
}

func formatEmail(art article) (string, error) {
	payload, err := sjson.Set("{}", "subject", art.Title)
	if err != nil {
		return "", err
	}
	payload, _ = sjson.Set(payload, "preheader", art.MetaDesc)
	payload, _ = sjson.Set(payload, "body_markdown", art.Body)
	return payload, nil
}

// splitThread 按词切分文本为若干段，每段不超过 limit 字符。
// 超过 limit 的单词按字符硬切。
func splitThread(text string, limit, maxParts int) []string {
	words := strings.Fields(text)
	var parts []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
	}

	for _, w := range words {
		if current.Len() > 0 && current.Len()+1+len(w) > limit {
			flush()
			if len(parts) == maxParts {
				return parts
			}
		}
		for len(w) > limit {
			flush()
			if len(parts) == maxParts {
				return parts
			}
			parts = append(parts, w[:limit])
			w = w[limit:]
			if len(parts) == maxParts {
				return parts
			}
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(w)
	}
	flush()
	if len(parts) > maxParts {
		parts = parts[:maxParts]
	}
	return parts
}

// finalArticle 取 SEO 优化稿，缺失时回退到编辑稿
func finalArticle(p *types.Project) article {
	title := stringField(p.SEO, "optimized_title", stringField(p.Edited, "edited_title", p.Topic))
	body := stringField(p.SEO, "optimized_body", stringField(p.Edited, "edited_body", ""))
	return article{
		Title:    title,
		Body:     body,
		Summary:  stringField(p.Draft, "summary", firstParagraph(body)),
		Slug:     stringField(p.SEO, "slug", slugify(title)),
		MetaDesc: stringField(p.SEO, "meta_description", ""),
		Keyword:  p.PrimaryKeyword(),
	}
}

// targetPlatforms 从项目元数据读取目标平台，过滤不支持的项。
// 元数据经过文档库往返后数组类型不稳定，这里统一按逗号分隔字符串存取。
func targetPlatforms(p *types.Project) []string {
	var platforms []string
	if raw, ok := p.Metadata["platforms"].(string); ok {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); supportedPlatforms[s] {
				platforms = append(platforms, s)
			}
		}
	}
	if len(platforms) == 0 {
		return []string{"wordpress"}
	}
	return platforms
}

func slugify(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
