package report

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/selwynd/roomdigest/pkg/roomdigest/analysis"
)

// reportTemplate is the HTML shell rendered to an image or PDF. Kept
// deliberately plain: inline styles only, no external assets, so the
// headless browser never waits on the network.
const reportTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { font-family: "Helvetica Neue", Arial, sans-serif; margin: 0; padding: 24px; background: #f5f6fa; color: #2f3640; }
  .card { background: #fff; border-radius: 10px; padding: 20px; margin-bottom: 16px; box-shadow: 0 1px 3px rgba(0,0,0,.08); }
  h1 { font-size: 22px; margin: 0 0 4px; }
  h2 { font-size: 16px; margin: 0 0 12px; color: #40739e; }
  .meta { color: #718093; font-size: 12px; margin-bottom: 16px; }
  .stats { display: flex; gap: 24px; }
  .stat b { display: block; font-size: 20px; }
  ul { margin: 0; padding-left: 18px; }
  li { margin-bottom: 8px; }
  .who { color: #718093; font-size: 12px; }
  .bar { background: #dcdde1; height: 8px; border-radius: 4px; overflow: hidden; }
  .bar i { display: block; height: 100%; background: #40739e; }
  .hour-row { display: flex; align-items: center; gap: 8px; font-size: 11px; margin-bottom: 2px; }
  .hour-row span { width: 32px; text-align: right; color: #718093; }
  .hour-row .bar { flex: 1; }
</style>
</head>
<body>
<div class="card">
  <h1>Daily Chat Digest</h1>
  <div class="meta">{{.RoomID}} · {{.GeneratedAt.Format "2006-01-02"}} · {{.Stats.MessageCount}} messages from {{.Stats.ParticipantCount}} members</div>
  <div class="stats">
    <div class="stat"><b>{{.Stats.MessageCount}}</b>messages</div>
    <div class="stat"><b>{{.Stats.CharCount}}</b>characters</div>
    <div class="stat"><b>{{.Stats.EmojiCount}}</b>reactions</div>
    <div class="stat"><b>{{printf "%02d:00" .Stats.MostActiveHour}}</b>peak hour</div>
  </div>
</div>

{{if .Topics}}
<div class="card">
  <h2>Topics</h2>
  <ul>
  {{range .Topics}}
    <li><b>{{.Topic}}</b>{{if .Detail}} — {{.Detail}}{{end}}
      {{if .Contributors}}<div class="who">{{join .Contributors ", "}}</div>{{end}}
    </li>
  {{end}}
  </ul>
</div>
{{end}}

{{if .UserTitles}}
<div class="card">
  <h2>Titles of the Day</h2>
  <ul>
  {{range .UserTitles}}
    <li><b>{{.Name}}</b>: {{.Title}}{{if .Reason}}<div class="who">{{.Reason}}</div>{{end}}</li>
  {{end}}
  </ul>
</div>
{{end}}

{{if .GoldenQuotes}}
<div class="card">
  <h2>Golden Quotes</h2>
  <ul>
  {{range .GoldenQuotes}}
    <li>&ldquo;{{.Content}}&rdquo;{{if .SenderName}} <span class="who">— {{.SenderName}}</span>{{end}}</li>
  {{end}}
  </ul>
</div>
{{end}}

{{if .Stats.TopUsers}}
<div class="card">
  <h2>Most Active</h2>
  {{$max := maxMessages .Stats.TopUsers}}
  {{range .Stats.TopUsers}}
  <div class="hour-row">
    <span>{{.MessageCount}}</span>
    <div class="bar"><i style="width: {{percent .MessageCount $max}}%"></i></div>
    {{.Nickname}}
  </div>
  {{end}}
</div>
{{end}}
</body>
</html>`

var reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"join": strings.Join,
	"maxMessages": func(users []analysis.UserStat) int {
		max := 1
		for _, u := range users {
			if u.MessageCount > max {
				max = u.MessageCount
			}
		}
		return max
	},
	"percent": func(n, max int) int {
		if max <= 0 {
			return 0
		}
		return n * 100 / max
	},
}).Parse(reportTemplate))

// buildReportHTML renders the template for a result.
func buildReportHTML(res *analysis.Result) (string, error) {
	var b strings.Builder
	if err := reportTmpl.Execute(&b, res); err != nil {
		return "", fmt.Errorf("executing report template: %w", err)
	}
	return b.String(), nil
}
