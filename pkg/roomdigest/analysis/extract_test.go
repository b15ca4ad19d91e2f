package analysis

import (
	"testing"
)

func TestFixJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "clean json untouched",
			input: `[{"topic": "go"}]`,
			want:  `[{"topic": "go"}]`,
		},
		{
			name:  "code fences stripped",
			input: "```json\n[{\"topic\": \"go\"}]\n```",
			want:  `[{"topic": "go"}]`,
		},
		{
			name:  "full width punctuation normalized",
			input: `[{"topic"：“go”}]`,
			want:  `[{"topic":"go"}]`,
		},
		{
			name:  "missing comma between objects",
			input: `[{"a": 1} {"b": 2}]`,
			want:  `[{"a": 1}, {"b": 2}]`,
		},
		{
			name:  "trailing comma removed",
			input: `[{"a": 1},]`,
			want:  `[{"a": 1}]`,
		},
		{
			name:  "bare keys quoted",
			input: `[{topic: "go", detail: "x"}]`,
			want:  `[{"topic": "go", "detail": "x"}]`,
		},
		{
			name:  "truncated array closed",
			input: `[{"a": 1}, {"b": 2}, {"c":`,
			want:  `[{"a": 1}, {"b": 2}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fixJSON(tt.input)
			if got != tt.want {
				t.Errorf("fixJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseJSONList(t *testing.T) {
	t.Run("valid array with surrounding prose", func(t *testing.T) {
		input := `Here are the topics:
[{"topic": "deployment", "contributors": ["alice"], "detail": "rollout plan"}]
Hope that helps!`
		var topics []Topic
		if !parseJSONList(input, &topics) {
			t.Fatal("parseJSONList returned false")
		}
		if len(topics) != 1 || topics[0].Topic != "deployment" {
			t.Errorf("got %+v", topics)
		}
	})

	t.Run("no array present", func(t *testing.T) {
		var topics []Topic
		if parseJSONList("the chat was mostly about deployment", &topics) {
			t.Error("expected false for prose without JSON")
		}
	})

	t.Run("unrepairable garbage", func(t *testing.T) {
		var topics []Topic
		if parseJSONList(`[{{{"not json`, &topics) {
			t.Error("expected false for unparsable input")
		}
	})
}

func TestExtractTopicsFallback(t *testing.T) {
	input := `The main discussions were:
1. Topic: kubernetes migration
2. Topic: lunch plans
Topic: code review etiquette`

	topics := extractTopicsFallback(input, 2)
	if len(topics) != 2 {
		t.Fatalf("got %d topics, want 2 (maxCount)", len(topics))
	}
	if topics[0].Topic != "kubernetes migration" {
		t.Errorf("first topic = %q", topics[0].Topic)
	}
}

func TestExtractTitlesFallback(t *testing.T) {
	input := `alice: "Night Owl"
bob: Chief Debugger`

	titles := extractTitlesFallback(input, 5)
	if len(titles) != 2 {
		t.Fatalf("got %d titles, want 2", len(titles))
	}
	if titles[0].Name != "alice" || titles[0].Title != "Night Owl" {
		t.Errorf("first title = %+v", titles[0])
	}
}

func TestExtractQuotesFallback(t *testing.T) {
	input := `Memorable moments:
1. "it works on my machine" — alice
2. "have you tried turning it off" - bob`

	quotes := extractQuotesFallback(input, 5)
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want 2", len(quotes))
	}
	if quotes[0].Content != "it works on my machine" {
		t.Errorf("first quote = %q", quotes[0].Content)
	}
	if quotes[0].SenderName != "alice" {
		t.Errorf("first sender = %q", quotes[0].SenderName)
	}
}
