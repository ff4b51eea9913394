// Package web embeds the operator dashboard (dist/) and serves it as a
// single-page application.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

const indexPage = "index.html"

// Dashboard serves the embedded operator dashboard.
func Dashboard() http.Handler {
	sub, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: dist missing from embedded files: " + err.Error())
	}
	return NewSPA(sub)
}

// SPA serves static assets from a file system and answers every other page
// route with the index document, leaving routing to the client. Paths under
// /api/ never fall back: an unmatched API route is a 404.
type SPA struct {
	files  fs.FS
	static http.Handler
}

// NewSPA creates an SPA over files, which must contain index.html.
func NewSPA(files fs.FS) *SPA {
	return &SPA{files: files, static: http.FileServerFS(files)}
}

func (s *SPA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name != "" && s.isFile(name) {
		s.static.ServeHTTP(w, r)
		return
	}

	// The index is rebuilt with every release, so browsers must revalidate.
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFileFS(w, r, s.files, indexPage)
}

func (s *SPA) isFile(name string) bool {
	info, err := fs.Stat(s.files, name)
	return err == nil && !info.IsDir()
}
