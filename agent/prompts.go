package agent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PromptTemplate holds the system prompt and user prompt template for one agent.
// User templates use {placeholder} substitution.
type PromptTemplate struct {
	SystemPrompt       string `yaml:"system_prompt"`
	UserPromptTemplate string `yaml:"user_prompt_template"`
}

// Render fills {key} placeholders in the user template.
func (t PromptTemplate) Render(vars map[string]string) string {
	out := t.UserPromptTemplate
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// PromptSet maps agent names to their templates.
type PromptSet map[string]PromptTemplate

// LoadPrompts reads templates from a YAML file and merges them over the defaults.
// A missing file returns the defaults unchanged.
func LoadPrompts(path string) (PromptSet, error) {
	prompts := DefaultPrompts()

	if path == "" {
		return prompts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return prompts, nil
		}
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var overrides PromptSet
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse prompts file: %w", err)
	}
	for name, tpl := range overrides {
		prompts[name] = tpl
	}
	return prompts, nil
}

// Get returns the template for an agent, falling back to an empty template.
func (s PromptSet) Get(name string) PromptTemplate {
	return s[name]
}

// DefaultPrompts returns the built-in templates for all pipeline agents.
func DefaultPrompts() PromptSet {
	return PromptSet{
		"research": {
			SystemPrompt: "You are a meticulous research assistant. Respond with a single JSON object and nothing else.",
			UserPromptTemplate: `Research the topic "{topic}" for a long-form article aimed at {audience}.
Return JSON with fields: overview (string), key_points (array of strings),
statistics (array of strings), expert_opinions (array of strings), sources (array of strings).`,
		},
		"content": {
			SystemPrompt: "You are a senior content writer. Respond with a single JSON object and nothing else.",
			UserPromptTemplate: `Write an article about "{topic}" using this research:
{research}

Target length {word_count} words, tone: {tone}.
Return JSON with fields: title (string), body (markdown string with H1/H2 headings), summary (string), tags (array of strings).`,
		},
		"editor": {
			SystemPrompt: "You are a rigorous copy editor. Respond with a single JSON object and nothing else.",
			UserPromptTemplate: `Edit the following article. Focus on {editing_focus}. Desired tone: {tone}.

Title: {title}

{body}

Return JSON with fields: edited_title (string), edited_body (markdown string),
changes_made (array of strings), improvements (array of strings).`,
		},
		"seo": {
			SystemPrompt: "You are an SEO specialist. Respond with a single JSON object and nothing else.",
			UserPromptTemplate: `Optimize the following article for the primary keyword "{keyword}".
Keep the meaning intact, work the keyword naturally into the title and body,
and make sure headings use H1/H2 markdown.

Title: {title}

{body}

Return JSON with fields: optimized_title (string), optimized_body (markdown string),
meta_description (string, max 160 chars), slug (string).`,
		},
		"image": {
			SystemPrompt: "You are an art director for editorial illustrations. Respond with a single JSON object and nothing else.",
			UserPromptTemplate: `Design illustrations for an article titled "{title}".
Summary: {summary}

Return JSON with fields: images (array of objects with prompt, style, aspect_ratio, alt_text).`,
		},
		"audio": {
			SystemPrompt: "You are an audio producer. Respond with a single JSON object and nothing else.",
			UserPromptTemplate: `Write a narration script for an audio version of the article titled "{title}".

{body}

Return JSON with fields: script (string), voice (string), estimated_duration_seconds (number).`,
		},
		"video": {
			SystemPrompt: "You are a video storyboard writer. Respond with a single JSON object and nothing else.",
			UserPromptTemplate: `Create a short-video storyboard for the article titled "{title}".
Summary: {summary}

Return JSON with fields: scenes (array of objects with visual, voiceover, duration_seconds), hook (string).`,
		},
	}
}
