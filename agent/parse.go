package agent

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// =============================================================================
// 🧩 模型输出解析
// =============================================================================
// 模型经常在 JSON 外包裹代码块、前后缀说明，或留下尾逗号。
// 解析顺序：剥离代码块 -> 截取最外层对象 -> 修复尾逗号 -> 结构化兜底。
// =============================================================================

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bulletRe        = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)
)

// ParseJSON extracts a JSON object from raw model output. The second return
// value is false when structured parsing failed and a plain-text fallback
// document was built instead.
func ParseJSON(raw string) (map[string]any, bool) {
	candidate := raw

	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		candidate = m[1]
	}

	if obj := outermostObject(candidate); obj != "" {
		if doc, ok := parseObject(obj); ok {
			return doc, true
		}
		// 尾逗号是最常见的损坏形式
		repaired := trailingCommaRe.ReplaceAllString(obj, "$1")
		if doc, ok := parseObject(repaired); ok {
			return doc, true
		}
	}

	return fallbackDocument(raw), false
}

func parseObject(s string) (map[string]any, bool) {
	if !gjson.Valid(s) {
		return nil, false
	}
	doc, ok := gjson.Parse(s).Value().(map[string]any)
	return doc, ok
}

// outermostObject returns the substring from the first '{' to the last '}',
// or "" when no object is present.
func outermostObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// fallbackDocument builds a minimal document from unstructured text:
// the first paragraph becomes the overview, bullet or numbered lines
// become key points (at most seven).
func fallbackDocument(raw string) map[string]any {
	text := strings.TrimSpace(raw)

	overview := text
	if idx := strings.Index(text, "\n\n"); idx > 0 {
		overview = strings.TrimSpace(text[:idx])
	}

	var points []any
	for _, line := range strings.Split(text, "\n") {
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			points = append(points, strings.TrimSpace(m[1]))
			if len(points) == 7 {
				break
			}
		}
	}

	doc := map[string]any{"overview": overview}
	if len(points) > 0 {
		doc["key_points"] = points
	}
	return doc
}

// stringField reads a string value from a parsed document, returning the
// fallback when missing or not a string.
func stringField(doc map[string]any, key, fallback string) string {
	if v, ok := doc[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
