package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrNotEnoughMessages signals that the room is below the configured
	// message threshold; no LLM call was made.
	ErrNotEnoughMessages = errors.New("analysis: not enough messages")

	// ErrTotalFailure signals that every enabled extraction category came
	// back empty. The caller must not render or send a report.
	ErrTotalFailure = errors.New("analysis: all enabled categories empty")
)

// CategoryOptions configures one extraction category.
type CategoryOptions struct {
	Enabled     bool
	MaxItems    int
	MaxTokens   int
	ProviderKey string
}

// Options configures one analysis run. Derived from the plugin config.
type Options struct {
	Topics       CategoryOptions
	UserTitles   CategoryOptions
	GoldenQuotes CategoryOptions

	// Temperature is the sampling temperature for all extraction calls.
	Temperature float64

	// MinMessages is the threshold below which analysis is skipped.
	MinMessages int

	// BotIDs are account IDs excluded from statistics.
	BotIDs []string

	// TopUserLimit bounds the top-user list in statistics.
	TopUserLimit int
}

// Pipeline coordinates statistics and the three concurrent extractors.
type Pipeline struct {
	gateway Gateway
	opts    Options
	logger  *slog.Logger
}

// NewPipeline creates a pipeline over the given LLM gateway.
func NewPipeline(gateway Gateway, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.6
	}
	applyCategoryDefaults(&opts.Topics, 8, 4000)
	applyCategoryDefaults(&opts.UserTitles, 6, 4000)
	applyCategoryDefaults(&opts.GoldenQuotes, 5, 4000)

	return &Pipeline{
		gateway: gateway,
		opts:    opts,
		logger:  logger.With("component", "analysis"),
	}
}

func applyCategoryDefaults(c *CategoryOptions, maxItems, maxTokens int) {
	if c.MaxItems <= 0 {
		c.MaxItems = maxItems
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = maxTokens
	}
}

// Analyze runs the full pipeline for one room: statistics, then the three
// enabled extractors concurrently. A failing extractor contributes an empty
// list and zero usage; extractor panics are isolated per goroutine. Returns
// ErrNotEnoughMessages below the threshold and ErrTotalFailure when every
// enabled category came back empty.
func (p *Pipeline) Analyze(ctx context.Context, messages []Message, roomID string) (*Result, error) {
	if len(messages) < p.opts.MinMessages {
		p.logger.Info("skipping analysis, below message threshold",
			"room", roomID,
			"messages", len(messages),
			"threshold", p.opts.MinMessages,
		)
		return nil, fmt.Errorf("%w: %d < %d", ErrNotEnoughMessages, len(messages), p.opts.MinMessages)
	}

	stats := BuildStatistics(messages, p.opts.BotIDs, p.opts.TopUserLimit)
	transcript := buildTranscript(messages)

	var (
		wg sync.WaitGroup

		topics     []Topic
		topicUsage TokenUsage
		titles     []UserTitle
		titleUsage TokenUsage
		quotes     []GoldenQuote
		quoteUsage TokenUsage
	)

	// Fan-out: each enabled category runs independently; a panic in one
	// must not cancel the others.
	if p.opts.Topics.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.recoverExtractor("topics")
			topics, topicUsage = run(ctx, p.gateway, extractor[Topic]{
				category:    "topics",
				maxItems:    p.opts.Topics.MaxItems,
				maxTokens:   p.opts.Topics.MaxTokens,
				temperature: p.opts.Temperature,
				providerKey: p.opts.Topics.ProviderKey,
				buildPrompt: func() string { return buildTopicsPrompt(transcript, p.opts.Topics.MaxItems) },
				parse: func(text string) ([]Topic, bool) {
					var out []Topic
					ok := parseJSONList(text, &out)
					return out, ok
				},
				fallback: extractTopicsFallback,
			}, p.logger)
		}()
	}

	if p.opts.UserTitles.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.recoverExtractor("user_titles")
			titles, titleUsage = run(ctx, p.gateway, extractor[UserTitle]{
				category:    "user_titles",
				maxItems:    p.opts.UserTitles.MaxItems,
				maxTokens:   p.opts.UserTitles.MaxTokens,
				temperature: p.opts.Temperature,
				providerKey: p.opts.UserTitles.ProviderKey,
				buildPrompt: func() string {
					return buildTitlesPrompt(transcript, stats.TopUsers, p.opts.UserTitles.MaxItems)
				},
				parse: func(text string) ([]UserTitle, bool) {
					var out []UserTitle
					ok := parseJSONList(text, &out)
					return out, ok
				},
				fallback: extractTitlesFallback,
			}, p.logger)
		}()
	}

	if p.opts.GoldenQuotes.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.recoverExtractor("golden_quotes")
			quotes, quoteUsage = run(ctx, p.gateway, extractor[GoldenQuote]{
				category:    "golden_quotes",
				maxItems:    p.opts.GoldenQuotes.MaxItems,
				maxTokens:   p.opts.GoldenQuotes.MaxTokens,
				temperature: p.opts.Temperature,
				providerKey: p.opts.GoldenQuotes.ProviderKey,
				buildPrompt: func() string { return buildQuotesPrompt(transcript, p.opts.GoldenQuotes.MaxItems) },
				parse: func(text string) ([]GoldenQuote, bool) {
					var out []GoldenQuote
					ok := parseJSONList(text, &out)
					return out, ok
				},
				fallback: extractQuotesFallback,
			}, p.logger)
		}()
	}

	wg.Wait()

	usage := topicUsage.Add(titleUsage).Add(quoteUsage)

	// Total-failure gate: a report with no content in any enabled category
	// is worthless and must not be rendered.
	empty := true
	if p.opts.Topics.Enabled && len(topics) > 0 {
		empty = false
	}
	if p.opts.UserTitles.Enabled && len(titles) > 0 {
		empty = false
	}
	if p.opts.GoldenQuotes.Enabled && len(quotes) > 0 {
		empty = false
	}
	if empty {
		p.logger.Error("analysis total failure", "room", roomID)
		return nil, ErrTotalFailure
	}

	p.logger.Info("analysis complete",
		"room", roomID,
		"topics", len(topics),
		"titles", len(titles),
		"quotes", len(quotes),
		"total_tokens", usage.TotalTokens,
	)

	return &Result{
		RoomID:       roomID,
		GeneratedAt:  time.Now(),
		Stats:        stats,
		Topics:       topics,
		UserTitles:   titles,
		GoldenQuotes: quotes,
		Usage:        usage,
	}, nil
}

// recoverExtractor turns an extractor panic into a logged failure so the
// sibling extractors keep their results.
func (p *Pipeline) recoverExtractor(category string) {
	if r := recover(); r != nil {
		p.logger.Error("extractor panicked", "category", category, "panic", r)
	}
}
