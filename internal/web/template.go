package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/train-motor/internal/status"
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
	"dirClass": func(d string) string {
		switch d {
		case "FORWARD":
			return "fwd"
		case "REVERSE":
			return "rev"
		default:
			return "stopped"
		}
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Train Motor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
form { display: inline-block; margin: 0.5em 0.5em 0.5em 0; }
input[type=range] { width: 100%; }
.fwd { color: green; font-weight: bold; }
.rev { color: #c60; font-weight: bold; }
.stopped { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.failed { color: red; }
</style>
</head>
<body>
<h1>Train Motor</h1>

<h2>Motor</h2>
<table>
<tr><th>Speed</th><td id="speed">{{.Speed}}</td></tr>
<tr><th>Direction</th><td id="direction" class="{{dirClass (printf "%s" .Direction)}}">{{.Direction}}</td></tr>
<tr><th>Target</th><td>{{.Target}}{{if .Ramping}} (ramping){{end}}</td></tr>
{{with .LastCommand}}<tr><th>Last command</th><td class="{{.Status}}">{{.Kind}}{{if eq .Kind "SET_SPEED"}} {{.Speed}}{{end}} via {{.Source}}: {{.Status}}{{if .Error}} ({{.Error}}){{end}}</td></tr>{{end}}
</table>

<form method="post" action="/set">
<input type="range" name="speed" min="-{{.Config.MaxSpeed}}" max="{{.Config.MaxSpeed}}" value="{{.Target}}">
<button type="submit">Set speed</button>
</form>
<form method="post" action="/stop">
<button type="submit">Stop</button>
</form>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Speed set</th><td>{{.Counts.SpeedSet}}</td></tr>
<tr><th>Stop</th><td>{{.Counts.Stop}}</td></tr>
<tr><th>Reverse</th><td>{{.Counts.Reverse}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Max speed</th><td>{{.Config.MaxSpeed}}</td></tr>
<tr><th>Step</th><td>{{.Config.StepMs}}ms</td></tr>
<tr><th>Brake</th><td>{{.Config.BrakeMs}}ms</td></tr>
<tr><th>PWM</th><td>{{.Config.FrequencyHz}}Hz on {{.Config.ChannelA}}/{{.Config.ChannelB}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
