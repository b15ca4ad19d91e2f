package analysis

import (
	"testing"
	"time"
)

func msgAt(sender, name string, hour int, text string) Message {
	return Message{
		SenderID:    sender,
		DisplayName: name,
		Timestamp:   time.Date(2026, 8, 28, hour, 0, 0, 0, time.UTC),
		Parts:       []MessagePart{{Kind: PartText, Payload: text}},
	}
}

func TestBuildStatistics(t *testing.T) {
	messages := []Message{
		msgAt("@alice:x", "alice", 9, "morning"),
		msgAt("@alice:x", "alice", 9, "standup time"),
		msgAt("@alice:x", "alice", 2, "late night fix"),
		msgAt("@bob:x", "bob", 9, "hi"),
		msgAt("@bot:x", "digest-bot", 9, "yesterday's digest"),
	}
	messages[3].Parts = append(messages[3].Parts, MessagePart{Kind: PartReaction, Payload: "👍"})

	stats := BuildStatistics(messages, []string{"@bot:x"}, 10)

	if stats.MessageCount != 4 {
		t.Errorf("MessageCount = %d, want 4 (bot excluded)", stats.MessageCount)
	}
	if stats.ParticipantCount != 2 {
		t.Errorf("ParticipantCount = %d, want 2", stats.ParticipantCount)
	}
	if stats.EmojiCount != 1 {
		t.Errorf("EmojiCount = %d, want 1", stats.EmojiCount)
	}
	if stats.MostActiveHour() != 9 {
		t.Errorf("MostActiveHour = %d, want 9", stats.MostActiveHour())
	}

	if len(stats.TopUsers) != 2 {
		t.Fatalf("TopUsers len = %d, want 2", len(stats.TopUsers))
	}
	if stats.TopUsers[0].UserID != "@alice:x" {
		t.Errorf("top user = %q, want alice", stats.TopUsers[0].UserID)
	}

	alice := stats.TopUsers[0]
	if got := alice.NightRatio(); got < 0.33 || got > 0.34 {
		t.Errorf("alice NightRatio = %f, want ~1/3", got)
	}
}

func TestBuildStatisticsTieBreak(t *testing.T) {
	messages := []Message{
		msgAt("@bob:x", "bob", 10, "a"),
		msgAt("@alice:x", "alice", 10, "b"),
	}

	stats := BuildStatistics(messages, nil, 10)
	if stats.TopUsers[0].UserID != "@alice:x" {
		t.Errorf("equal counts should order by user ID, got %q first", stats.TopUsers[0].UserID)
	}
}

func TestBuildStatisticsTopLimit(t *testing.T) {
	var messages []Message
	for _, id := range []string{"@a:x", "@b:x", "@c:x"} {
		messages = append(messages, msgAt(id, "", 12, "hello"))
	}

	stats := BuildStatistics(messages, nil, 2)
	if len(stats.TopUsers) != 2 {
		t.Errorf("TopUsers len = %d, want 2", len(stats.TopUsers))
	}
}

func TestBuildTranscript(t *testing.T) {
	messages := []Message{
		msgAt("@alice:x", "alice", 9, "hello"),
		{SenderID: "@bob:x", Timestamp: time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC),
			Parts: []MessagePart{{Kind: PartImage, Payload: "mxc://x/img"}}},
	}

	got := buildTranscript(messages)
	want := "[09:00] alice: hello\n"
	if got != want {
		t.Errorf("buildTranscript = %q, want %q (image-only message skipped)", got, want)
	}
}
