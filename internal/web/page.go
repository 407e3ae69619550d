// internal/web/page.go
package web

import (
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/John-MustangGT/ntripwatch/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const timestampLayout = "2006-01-02 15:04:05"

var statusPage = template.Must(template.New("status").Funcs(template.FuncMap{
	"ts": func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Local().Format(timestampLayout)
	},
	"rowclass": func(state database.State) string {
		switch state {
		case database.StateUp:
			return "ok"
		case database.StateDown:
			return "fail"
		case database.StateUnstable:
			return "warn"
		default:
			return "unknown"
		}
	},
}).Parse(statusPageHTML))

type statusPageData struct {
	Now     string
	Rows    []*metrics.CasterStatus
	Casters []CasterResponse
}

// GET / - status table and caster management, refreshed every 60s
func (s *Server) serveStatusPage(c *gin.Context) {
	ctx := c.Request.Context()

	casters, err := s.store.ListCasters(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to list casters")
		c.String(http.StatusInternalServerError, "Failed to list casters")
		return
	}
	rows, err := s.engine.Deriver().ReportAll(ctx, casters)
	if err != nil {
		logrus.WithError(err).Error("Failed to build status report")
		c.String(http.StatusInternalServerError, "Failed to build status report")
		return
	}

	data := statusPageData{
		Now:  s.now().Format(timestampLayout),
		Rows: rows,
	}
	for i := range casters {
		data.Casters = append(data.Casters, newCasterResponse(&casters[i]))
	}

	var buf strings.Builder
	if err := statusPage.Execute(&buf, data); err != nil {
		logrus.WithError(err).Error("Failed to render status page")
		c.String(http.StatusInternalServerError, "Failed to render status page")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(buf.String()))
}

// POST /casters/add
func (s *Server) addCasterForm(c *gin.Context) {
	var req CasterRequest
	if err := c.ShouldBind(&req); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	caster, err := req.toCaster()
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateCaster(c.Request.Context(), caster); err != nil {
		storeError(c, err, "create caster")
		return
	}
	logrus.WithField("caster", caster.Name).Info("Caster created via status page")
	s.refreshMetrics(c)
	c.Redirect(http.StatusSeeOther, "/")
}

// POST /casters/:name/edit
func (s *Server) editCasterForm(c *gin.Context) {
	var req CasterRequest
	if err := c.ShouldBind(&req); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	caster, err := req.toCaster()
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateCaster(c.Request.Context(), c.Param("name"), caster); err != nil {
		storeError(c, err, "update caster")
		return
	}
	logrus.WithField("caster", caster.Name).Info("Caster updated via status page")
	c.Redirect(http.StatusSeeOther, "/")
}

// POST /casters/:name/delete
func (s *Server) deleteCasterForm(c *gin.Context) {
	name := c.Param("name")
	if err := s.engine.DeleteCaster(c.Request.Context(), name); err != nil {
		storeError(c, err, "delete caster")
		return
	}
	logrus.WithField("caster", name).Info("Caster deleted via status page")
	c.Redirect(http.StatusSeeOther, "/")
}

const statusPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>NTRIP Monitor</title>
    <meta http-equiv="refresh" content="60">
    <link rel="icon" href="/favicon.ico">
    <style>
        body { font-family: Arial, sans-serif; background:#f5f5f5; }
        h1, h2 { text-align:center; }
        table { border-collapse: collapse; width: 90%; margin: 20px auto; }
        th, td { padding: 8px 12px; border: 1px solid #ccc; }
        th { background:#333; color:#fff; }
        .ok { background:#c8e6c9; }
        .fail { background:#ffcdd2; }
        .warn { background:#fff3c4; }
        .unknown { background:#eeeeee; }
        .formbox { width: 90%; margin: auto; background:#fff; padding:15px; }
        input { padding:6px; margin:4px; }
        .btn { padding:6px 10px; }
        .danger { background:#c62828; color:#fff; }
    </style>
</head>
<body>

<h1>NTRIP Monitor Status</h1>
<div style="text-align:center; color:#555;">Last refresh: {{.Now}}</div>

<h2>Current Status</h2>
<table>
<tr><th>Caster</th><th>Status</th><th>Since</th><th>Outage</th><th>Uptime 24h</th><th>Uptime 7d</th><th>Last Message</th><th>Last Check</th></tr>
{{range .Rows}}
<tr class="{{rowclass .State}}">
<td>{{.Name}}</td>
<td>{{.State}}</td>
<td>{{ts .StateSince}}</td>
<td>{{if .InOutage}}{{.Outage}}{{else}}-{{end}}</td>
<td>{{printf "%.2f" .Uptime24h}}%</td>
<td>{{printf "%.2f" .Uptime7d}}%</td>
<td>{{.LastMessage}}</td>
<td>{{ts .LastTimestamp}}</td>
</tr>
{{end}}
</table>

<h2>Manage NTRIP Casters</h2>
<div class="formbox">
<form method="post" action="/casters/add">
<b>Add new caster</b><br>
Name <input name="name" required>
Host <input name="host" required>
Port <input name="port" value="2101" required size="5">
User <input name="username">
Pass <input name="password" type="password">
<button class="btn" type="submit">Add</button>
</form>
</div>

<table>
<tr><th>Name</th><th>Host</th><th>Port</th><th>User</th><th>Password</th><th>Actions</th></tr>
{{range .Casters}}
<tr>
<td colspan="5">
<form method="post" action="/casters/{{.Name}}/edit">
<input name="name" value="{{.Name}}">
<input name="host" value="{{.Host}}">
<input name="port" value="{{.Port}}" size="5">
<input name="username" value="{{.Username}}">
<input name="password" type="password" placeholder="{{if .HasPassword}}unchanged{{end}}">
<button class="btn" type="submit">Save</button>
</form>
</td>
<td>
<form method="post" action="/casters/{{.Name}}/delete">
<button class="btn danger" type="submit">Delete</button>
</form>
</td>
</tr>
{{end}}
</table>

</body>
</html>
`
