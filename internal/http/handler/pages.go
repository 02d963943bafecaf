package handler

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/navihealth/navi-portal/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type cssVar struct {
	Name  string
	Value string
}

// brandingVars turns branding into CSS custom properties. Keys that are not
// plain identifiers are dropped.
func brandingVars(b domain.Branding) []cssVar {
	out := make([]cssVar, 0, len(b))
	for k, v := range b {
		if !cssIdent(k) {
			continue
		}
		switch v.(type) {
		case string, float64, int, bool:
		default:
			continue
		}
		out = append(out, cssVar{Name: k, Value: fmt.Sprint(v)})
	}
	slices.SortFunc(out, func(a, b cssVar) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func cssIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}

func renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		slog.ErrorContext(r.Context(), "render page failed", "template", name, "error", err.Error())
	}
}

func plainError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Cache-Control", "no-store")
	http.Error(w, message, status)
}
