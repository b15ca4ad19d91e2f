package analysis

import (
	"encoding/json"
	"regexp"
	"strings"
)

// jsonBlockPattern finds the JSON array in an LLM response. Greedy so the
// match spans nested arrays inside the elements.
var jsonBlockPattern = regexp.MustCompile(`(?s)\[.*\]`)

// codeFencePattern strips markdown code fences around JSON output.
var codeFencePattern = regexp.MustCompile("```(?:json)?\\s*")

var (
	missingCommaPattern  = regexp.MustCompile(`}\s*{`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyPattern       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// punctuationFixer normalizes full-width punctuation that models sometimes
// emit inside JSON when the chat history is CJK-heavy.
var punctuationFixer = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
	"，", ",",
	"：", ":",
	"（", "(", "）", ")",
	"【", "[", "】", "]",
)

// fixJSON repairs common defects in model-emitted JSON: code fences,
// full-width punctuation, missing commas between objects, unquoted keys,
// trailing commas, and truncated arrays.
func fixJSON(text string) string {
	text = codeFencePattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	text = punctuationFixer.Replace(text)

	// Truncated output: close the array after the last complete object.
	trimmed := strings.TrimSpace(text)
	if !strings.HasSuffix(trimmed, "]") {
		if last := strings.LastIndex(trimmed, "}"); last > 0 {
			trimmed = trimmed[:last+1] + "]"
		}
	}
	text = trimmed

	text = missingCommaPattern.ReplaceAllString(text, "}, {")
	text = bareKeyPattern.ReplaceAllString(text, `$1"$2":`)
	text = trailingCommaPattern.ReplaceAllString(text, "$1")

	return strings.TrimSpace(text)
}

// parseJSONList locates the first JSON array in an LLM response, repairs it,
// and unmarshals it into out. Returns false when no parsable array exists;
// the caller then falls through to the regex extractor.
func parseJSONList(text string, out any) bool {
	block := jsonBlockPattern.FindString(text)
	if block == "" {
		return false
	}
	if err := json.Unmarshal([]byte(fixJSON(block)), out); err != nil {
		return false
	}
	return true
}

// ---------- Regex fallbacks ----------
//
// When the model ignores the JSON format instruction, each category falls
// back to a line-oriented extraction over the raw response. The patterns
// accept both "Key: value" and numbered-list shapes.

var topicLinePattern = regexp.MustCompile(`(?mi)^\s*(?:\d+[.)]\s*)?(?:topic|话题)\s*[:：]\s*(.+)$`)

// extractTopicsFallback pulls topic lines out of a non-JSON response.
func extractTopicsFallback(text string, maxCount int) []Topic {
	var topics []Topic
	for _, m := range topicLinePattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		topics = append(topics, Topic{Topic: name})
		if len(topics) >= maxCount {
			break
		}
	}
	return topics
}

var titleLinePattern = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]\s*)?(\S[^:：]{0,40}?)\s*[:：]\s*[「"']?([^「」"'\n]{1,30})[」"']?\s*$`)

// extractTitlesFallback pulls "name: title" lines out of a non-JSON response.
func extractTitlesFallback(text string, maxCount int) []UserTitle {
	var titles []UserTitle
	for _, m := range titleLinePattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		title := strings.TrimSpace(m[2])
		if name == "" || title == "" {
			continue
		}
		titles = append(titles, UserTitle{Name: name, Title: title})
		if len(titles) >= maxCount {
			break
		}
	}
	return titles
}

var quoteLinePattern = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]\s*)?[「"“]([^」"”\n]{2,120})[」"”]\s*(?:[-—–]{1,2}\s*(.+))?$`)

// extractQuotesFallback pulls quoted lines out of a non-JSON response.
func extractQuotesFallback(text string, maxCount int) []GoldenQuote {
	var quotes []GoldenQuote
	for _, m := range quoteLinePattern.FindAllStringSubmatch(text, -1) {
		content := strings.TrimSpace(m[1])
		if content == "" {
			continue
		}
		q := GoldenQuote{Content: content}
		if len(m) > 2 {
			q.SenderName = strings.TrimSpace(m[2])
		}
		quotes = append(quotes, q)
		if len(quotes) >= maxCount {
			break
		}
	}
	return quotes
}
