// Package analysis implements the chat-analysis pipeline for roomdigest:
// message statistics, LLM-assisted extraction of topics, user titles and
// golden quotes, and the aggregate result handed to the report layer.
package analysis

import (
	"strings"
	"time"
)

// PartKind identifies the kind of a message part.
type PartKind string

const (
	PartText     PartKind = "text"
	PartImage    PartKind = "image"
	PartReaction PartKind = "reaction"
	PartReply    PartKind = "reply"
)

// MessagePart is one segment of a chat message.
type MessagePart struct {
	Kind PartKind

	// Payload is the part content: text body for PartText, emoji for
	// PartReaction, event reference for PartReply, mxc URI for PartImage.
	Payload string
}

// Message is a normalized chat message as fetched from a transport.
type Message struct {
	// SenderID is the platform user identifier (e.g. "@alice:example.org").
	SenderID string

	// DisplayName is the sender display name at the time of the message.
	DisplayName string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// Parts are the message content segments.
	Parts []MessagePart
}

// Text returns the concatenated text content of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartText {
			b.WriteString(p.Payload)
		}
	}
	return b.String()
}

// Topic is one discussion topic extracted from the chat history.
type Topic struct {
	Topic        string   `json:"topic"`
	Contributors []string `json:"contributors"`
	Detail       string   `json:"detail"`
}

// UserTitle is a playful title awarded to an active participant.
type UserTitle struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// GoldenQuote is a notable quote picked from the chat history.
type GoldenQuote struct {
	Content    string `json:"content"`
	SenderName string `json:"sender_name"`
	Reason     string `json:"reason"`
}

// TokenUsage tracks LLM token consumption. Usages from concurrent
// extractors are combined by pointwise addition; a failed or disabled
// extractor contributes the zero value.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the pointwise sum of u and other.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// Result is the immutable aggregate produced by one analysis run.
// It is shared by reference between the report layer and the delivery
// retry engine and must not be mutated after Analyze returns.
type Result struct {
	RoomID      string
	GeneratedAt time.Time

	Stats        Statistics
	Topics       []Topic
	UserTitles   []UserTitle
	GoldenQuotes []GoldenQuote

	Usage TokenUsage
}
