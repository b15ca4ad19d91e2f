package analysis

import (
	"sort"
)

// UserStat aggregates per-user activity counters.
type UserStat struct {
	UserID       string
	Nickname     string
	MessageCount int
	CharCount    int
	EmojiCount   int
	ReplyCount   int

	// Hours is the per-hour message histogram (local time of the message).
	Hours [24]int
}

// MostActiveHour returns the hour of day with the most messages.
func (u UserStat) MostActiveHour() int {
	max := 0
	for h := 1; h < 24; h++ {
		if u.Hours[h] > u.Hours[max] {
			max = h
		}
	}
	return max
}

// NightRatio returns the fraction of the user's messages sent between
// midnight and 06:00.
func (u UserStat) NightRatio() float64 {
	if u.MessageCount == 0 {
		return 0
	}
	night := 0
	for h := 0; h < 6; h++ {
		night += u.Hours[h]
	}
	return float64(night) / float64(u.MessageCount)
}

// Statistics holds the room-level activity counters for one analysis window.
type Statistics struct {
	MessageCount     int
	ParticipantCount int
	CharCount        int
	EmojiCount       int

	// HourlyActivity is the room-wide per-hour message histogram.
	HourlyActivity [24]int

	// TopUsers are the most active participants, ordered by message count.
	TopUsers []UserStat
}

// MostActiveHour returns the busiest hour of the room.
func (s Statistics) MostActiveHour() int {
	max := 0
	for h := 1; h < 24; h++ {
		if s.HourlyActivity[h] > s.HourlyActivity[max] {
			max = h
		}
	}
	return max
}

// BuildStatistics computes room statistics from the fetched messages.
// Messages from the bot accounts listed in botIDs are excluded so the
// plugin does not count its own reports. topLimit bounds the TopUsers list.
func BuildStatistics(messages []Message, botIDs []string, topLimit int) Statistics {
	if topLimit <= 0 {
		topLimit = 10
	}

	bots := make(map[string]bool, len(botIDs))
	for _, id := range botIDs {
		bots[id] = true
	}

	perUser := make(map[string]*UserStat)
	stats := Statistics{}

	for _, msg := range messages {
		if bots[msg.SenderID] {
			continue
		}

		u, ok := perUser[msg.SenderID]
		if !ok {
			u = &UserStat{UserID: msg.SenderID}
			perUser[msg.SenderID] = u
		}
		if msg.DisplayName != "" {
			u.Nickname = msg.DisplayName
		}

		hour := msg.Timestamp.Hour()
		u.MessageCount++
		u.Hours[hour]++
		stats.MessageCount++
		stats.HourlyActivity[hour]++

		for _, part := range msg.Parts {
			switch part.Kind {
			case PartText:
				n := len([]rune(part.Payload))
				u.CharCount += n
				stats.CharCount += n
			case PartReaction:
				u.EmojiCount++
				stats.EmojiCount++
			case PartReply:
				u.ReplyCount++
			}
		}
	}

	stats.ParticipantCount = len(perUser)

	top := make([]UserStat, 0, len(perUser))
	for _, u := range perUser {
		top = append(top, *u)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].MessageCount != top[j].MessageCount {
			return top[i].MessageCount > top[j].MessageCount
		}
		return top[i].UserID < top[j].UserID
	})
	if len(top) > topLimit {
		top = top[:topLimit]
	}
	stats.TopUsers = top

	return stats
}
