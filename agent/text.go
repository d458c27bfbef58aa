package agent

import (
	"regexp"
	"strings"
	"unicode"
)

// =============================================================================
// 📏 文本度量
// =============================================================================
// 编辑、SEO、质检三个环节共享的确定性文本指标。
// =============================================================================

var (
	markdownNoiseRe = regexp.MustCompile(`[#*_>` + "`" + `\[\]()]`)
	sentenceEndRe   = regexp.MustCompile(`[.!?]+`)
	h1Re            = regexp.MustCompile(`(?m)^# \S`)
	h2Re            = regexp.MustCompile(`(?m)^## \S`)
)

// WordCount counts whitespace-separated words after stripping markdown markers.
func WordCount(text string) int {
	plain := markdownNoiseRe.ReplaceAllString(text, " ")
	return len(strings.Fields(plain))
}

// Sentences splits text into sentences on terminal punctuation.
// Empty fragments are dropped.
func Sentences(text string) []string {
	plain := markdownNoiseRe.ReplaceAllString(text, " ")
	parts := sentenceEndRe.Split(plain, -1)

	var out []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AvgSentenceLength returns the mean number of words per sentence.
func AvgSentenceLength(text string) float64 {
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return 0
	}
	words := 0
	for _, s := range sentences {
		words += len(strings.Fields(s))
	}
	return float64(words) / float64(len(sentences))
}

// KeywordDensity returns the percentage of words covered by keyword matches.
// Multi-word keywords count occurrences of the full phrase.
func KeywordDensity(text, keyword string) float64 {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return 0
	}
	total := WordCount(text)
	if total == 0 {
		return 0
	}

	lower := strings.ToLower(markdownNoiseRe.ReplaceAllString(text, " "))
	occurrences := strings.Count(lower, keyword)
	kwWords := len(strings.Fields(keyword))

	return float64(occurrences*kwWords) / float64(total) * 100
}

// HasH1 reports whether markdown text contains at least one H1 heading.
func HasH1(text string) bool {
	return h1Re.MatchString(text)
}

// HasH2 reports whether markdown text contains at least one H2 heading.
func HasH2(text string) bool {
	return h2Re.MatchString(text)
}

// HasH1AndH2 reports whether markdown text contains at least one H1 and one H2.
func HasH1AndH2(text string) bool {
	return HasH1(text) && HasH2(text)
}

// countSyllables estimates syllables as contiguous vowel groups, with a
// silent-e adjustment. Good enough for readability scoring.
func countSyllables(word string) int {
	word = strings.ToLower(word)
	count := 0
	prevVowel := false
	for _, r := range word {
		isVowel := strings.ContainsRune("aeiouy", r)
		if isVowel && !prevVowel {
			count++
		}
		prevVowel = isVowel
	}
	if strings.HasSuffix(word, "e") && count > 1 {
		count--
	}
	if count == 0 {
		count = 1
	}
	return count
}

// FleschScore computes the Flesch reading ease score:
// 206.835 - 1.015*(words/sentences) - 84.6*(syllables/words).
// Returns 0 for empty text.
func FleschScore(text string) float64 {
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return 0
	}

	plain := markdownNoiseRe.ReplaceAllString(text, " ")
	words := strings.FieldsFunc(plain, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	if len(words) == 0 {
		return 0
	}

	syllables := 0
	for _, w := range words {
		syllables += countSyllables(w)
	}

	wps := float64(len(words)) / float64(len(sentences))
	spw := float64(syllables) / float64(len(words))
	return 206.835 - 1.015*wps - 84.6*spw
}
