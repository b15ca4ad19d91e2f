package report

import (
	"fmt"
	"strings"

	"github.com/selwynd/roomdigest/pkg/roomdigest/analysis"
)

// RenderText renders a plain-text report. It is pure and always succeeds:
// this is the final fallback when every richer format failed, and the
// one-shot body sent alongside dead-lettered tasks.
func RenderText(res *analysis.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Daily Chat Digest — %s\n", res.GeneratedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "%d messages · %d members · %d characters · peak hour %02d:00\n",
		res.Stats.MessageCount,
		res.Stats.ParticipantCount,
		res.Stats.CharCount,
		res.Stats.MostActiveHour(),
	)

	if len(res.Topics) > 0 {
		b.WriteString("\nTopics:\n")
		for i, t := range res.Topics {
			fmt.Fprintf(&b, "%d. %s", i+1, t.Topic)
			if t.Detail != "" {
				fmt.Fprintf(&b, " — %s", t.Detail)
			}
			b.WriteByte('\n')
			if len(t.Contributors) > 0 {
				fmt.Fprintf(&b, "   by %s\n", strings.Join(t.Contributors, ", "))
			}
		}
	}

	if len(res.UserTitles) > 0 {
		b.WriteString("\nTitles of the day:\n")
		for _, t := range res.UserTitles {
			fmt.Fprintf(&b, "- %s: %s", t.Name, t.Title)
			if t.Reason != "" {
				fmt.Fprintf(&b, " (%s)", t.Reason)
			}
			b.WriteByte('\n')
		}
	}

	if len(res.GoldenQuotes) > 0 {
		b.WriteString("\nGolden quotes:\n")
		for _, q := range res.GoldenQuotes {
			fmt.Fprintf(&b, "- \"%s\"", q.Content)
			if q.SenderName != "" {
				fmt.Fprintf(&b, " — %s", q.SenderName)
			}
			b.WriteByte('\n')
		}
	}

	if len(res.Stats.TopUsers) > 0 {
		b.WriteString("\nMost active:\n")
		for i, u := range res.Stats.TopUsers {
			name := u.Nickname
			if name == "" {
				name = u.UserID
			}
			fmt.Fprintf(&b, "%d. %s — %d messages\n", i+1, name, u.MessageCount)
		}
	}

	if res.Usage.TotalTokens > 0 {
		fmt.Fprintf(&b, "\n(%d tokens used)\n", res.Usage.TotalTokens)
	}

	return b.String()
}
