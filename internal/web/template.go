package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/fan-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"temperature": func(t int) string {
		if t < 0 {
			return "n/a"
		}
		return fmt.Sprintf("%d°C", t)
	},
	"since": func(now, t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return now.Sub(t).Truncate(time.Second).String() + " ago"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Fan Controller</title>
<style>
body { font-family: monospace; max-width: 800px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.manual { color: green; font-weight: bold; }
.automatic { color: #888; }
.fallback { color: orange; }
.error { color: red; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Fan Controller</h1>

<h2>Hosts</h2>
<table>
<tr><th>Host</th><th>Type</th><th>Mode</th><th>Speed</th><th>Temperature</th><th>Last sample</th></tr>
{{range .Hosts}}<tr id="host-{{.Name}}">
<td>{{.Name}}{{if not .Running}} (stopped){{end}}</td>
<td>{{.Type}}</td>
<td class="{{.Mode}}{{if .Fallback}} fallback{{end}}">{{.Mode}}{{if .Fallback}} (fallback){{end}}</td>
<td>{{if eq (printf "%s" .Mode) "manual"}}{{.Speed}}%{{else}}firmware{{end}}</td>
<td>{{temperature .Temperature}}</td>
<td>{{since $.Now .LastSample}}</td>
</tr>
{{if .LastError}}<tr><td></td><td colspan="5" class="error">{{.LastError}}</td></tr>{{end}}
{{else}}<tr><td colspan="6">no hosts reporting yet</td></tr>
{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Interval</th><td>{{.Config.IntervalMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
