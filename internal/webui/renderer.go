package webui

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/quickscheduler/qsched/internal/util"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Renderer renders the UI's html/template pages against a shared layout.
type Renderer struct {
	t *template.Template
}

// NewRenderer parses the embedded template set.
func NewRenderer() (*Renderer, error) {
	t, err := template.New("root").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}
	return &Renderer{t: t}, nil
}

var templateFuncs = template.FuncMap{
	"truncate": func(s string, n int) string {
		if len(s) <= n {
			return s
		}
		return s[:n] + "..."
	},
	"jobDuration": func(started, finished *time.Time) string {
		if started == nil || finished == nil {
			return "—"
		}
		return util.FormatProcessingDuration(finished.Sub(*started))
	},
}

// Render executes the named page template (which pulls in the shared
// header and footer partials from partials.tmpl) and writes the result, buffering first so a mid-render error never leaves a
// half-written response.
func (r *Renderer) Render(w http.ResponseWriter, name string, data any) error {
	var buf bytes.Buffer
	if err := r.t.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := buf.WriteTo(w)
	return err
}
