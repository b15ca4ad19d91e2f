package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/selwynd/roomdigest/pkg/roomdigest/provider"
)

// fakeGateway routes responses by category keyword found in the prompt.
type fakeGateway struct {
	mu        sync.Mutex
	calls     int
	responses map[string]*provider.Response
	errs      map[string]error
}

func (g *fakeGateway) Generate(_ context.Context, prompt string, _ int, _ float64, _ string) (*provider.Response, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	for key, err := range g.errs {
		if strings.Contains(prompt, key) {
			return nil, err
		}
	}
	for key, resp := range g.responses {
		if strings.Contains(prompt, key) {
			return resp, nil
		}
	}
	return &provider.Response{Text: "[]"}, nil
}

// Prompt keywords that identify each category's prompt.
const (
	topicsMarker = "discussion topics"
	titlesMarker = "playful titles"
	quotesMarker = "memorable quotes"
)

func chatHistory(n int) []Message {
	messages := make([]Message, n)
	for i := range messages {
		messages[i] = Message{
			SenderID:    fmt.Sprintf("@user%d:x", i%3),
			DisplayName: fmt.Sprintf("user%d", i%3),
			Timestamp:   time.Date(2026, 8, 28, 10, i%60, 0, 0, time.UTC),
			Parts:       []MessagePart{{Kind: PartText, Payload: fmt.Sprintf("message %d", i)}},
		}
	}
	return messages
}

func allEnabled() Options {
	return Options{
		Topics:       CategoryOptions{Enabled: true},
		UserTitles:   CategoryOptions{Enabled: true},
		GoldenQuotes: CategoryOptions{Enabled: true},
		MinMessages:  10,
	}
}

func TestAnalyzeBelowThreshold(t *testing.T) {
	gw := &fakeGateway{}
	p := NewPipeline(gw, allEnabled(), nil)

	_, err := p.Analyze(context.Background(), chatHistory(5), "!room:x")
	if !errors.Is(err, ErrNotEnoughMessages) {
		t.Fatalf("err = %v, want ErrNotEnoughMessages", err)
	}
	if gw.calls != 0 {
		t.Errorf("gateway called %d times below threshold, want 0", gw.calls)
	}
}

func TestAnalyzeHappyPath(t *testing.T) {
	gw := &fakeGateway{
		responses: map[string]*provider.Response{
			topicsMarker: {
				Text:  `[{"topic": "release", "contributors": ["user0"], "detail": "cut the release"}]`,
				Usage: provider.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
			},
			titlesMarker: {
				Text:  `[{"user_id": "@user0:x", "name": "user0", "title": "Release Captain", "reason": "drove it"}]`,
				Usage: provider.Usage{PromptTokens: 80, CompletionTokens: 10, TotalTokens: 90},
			},
			quotesMarker: {
				Text:  `[{"content": "ship it", "sender_name": "user1", "reason": "decisive"}]`,
				Usage: provider.Usage{PromptTokens: 60, CompletionTokens: 5, TotalTokens: 65},
			},
		},
	}
	p := NewPipeline(gw, allEnabled(), nil)

	res, err := p.Analyze(context.Background(), chatHistory(20), "!room:x")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(res.Topics) != 1 || res.Topics[0].Topic != "release" {
		t.Errorf("Topics = %+v", res.Topics)
	}
	if len(res.UserTitles) != 1 || res.UserTitles[0].Title != "Release Captain" {
		t.Errorf("UserTitles = %+v", res.UserTitles)
	}
	if len(res.GoldenQuotes) != 1 || res.GoldenQuotes[0].Content != "ship it" {
		t.Errorf("GoldenQuotes = %+v", res.GoldenQuotes)
	}
	if res.Usage.TotalTokens != 275 {
		t.Errorf("Usage.TotalTokens = %d, want 275 (sum of all categories)", res.Usage.TotalTokens)
	}
	if res.Stats.MessageCount != 20 {
		t.Errorf("Stats.MessageCount = %d, want 20", res.Stats.MessageCount)
	}
}

func TestAnalyzePartialFailure(t *testing.T) {
	// Topics call fails outright, titles returns garbage that the regex
	// fallback can still read, quotes succeeds. The run must survive with
	// whatever it got.
	gw := &fakeGateway{
		errs: map[string]error{
			topicsMarker: errors.New("upstream 500"),
		},
		responses: map[string]*provider.Response{
			titlesMarker: {
				Text:  "user0: \"Night Owl\"",
				Usage: provider.Usage{TotalTokens: 50},
			},
			quotesMarker: {
				Text:  `[{"content": "ship it", "sender_name": "user1", "reason": "decisive"}]`,
				Usage: provider.Usage{TotalTokens: 65},
			},
		},
	}
	p := NewPipeline(gw, allEnabled(), nil)

	res, err := p.Analyze(context.Background(), chatHistory(20), "!room:x")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(res.Topics) != 0 {
		t.Errorf("Topics = %+v, want empty after call failure", res.Topics)
	}
	if len(res.UserTitles) != 1 || res.UserTitles[0].Title != "Night Owl" {
		t.Errorf("UserTitles = %+v, want regex fallback result", res.UserTitles)
	}
	if len(res.GoldenQuotes) != 1 {
		t.Errorf("GoldenQuotes = %+v", res.GoldenQuotes)
	}
	if res.Usage.TotalTokens != 115 {
		t.Errorf("Usage.TotalTokens = %d, want 115 (failed call contributes zero)", res.Usage.TotalTokens)
	}
}

func TestAnalyzeTotalFailure(t *testing.T) {
	gw := &fakeGateway{
		errs: map[string]error{
			topicsMarker: errors.New("down"),
			titlesMarker: errors.New("down"),
			quotesMarker: errors.New("down"),
		},
	}
	p := NewPipeline(gw, allEnabled(), nil)

	_, err := p.Analyze(context.Background(), chatHistory(20), "!room:x")
	if !errors.Is(err, ErrTotalFailure) {
		t.Fatalf("err = %v, want ErrTotalFailure", err)
	}
}

func TestAnalyzeAllCategoriesDisabled(t *testing.T) {
	opts := Options{MinMessages: 10}
	gw := &fakeGateway{}
	p := NewPipeline(gw, opts, nil)

	_, err := p.Analyze(context.Background(), chatHistory(20), "!room:x")
	if !errors.Is(err, ErrTotalFailure) {
		t.Fatalf("err = %v, want ErrTotalFailure with nothing enabled", err)
	}
	if gw.calls != 0 {
		t.Errorf("gateway called %d times with nothing enabled", gw.calls)
	}
}

func TestAnalyzeCapsItems(t *testing.T) {
	var topics []string
	for i := 0; i < 12; i++ {
		topics = append(topics, fmt.Sprintf(`{"topic": "t%d"}`, i))
	}
	gw := &fakeGateway{
		responses: map[string]*provider.Response{
			topicsMarker: {Text: "[" + strings.Join(topics, ",") + "]"},
		},
	}
	opts := allEnabled()
	opts.UserTitles.Enabled = false
	opts.GoldenQuotes.Enabled = false
	opts.Topics.MaxItems = 8
	p := NewPipeline(gw, opts, nil)

	res, err := p.Analyze(context.Background(), chatHistory(20), "!room:x")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Topics) != 8 {
		t.Errorf("Topics len = %d, want capped at 8", len(res.Topics))
	}
}
