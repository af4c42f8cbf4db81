package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

const placeholderLogoSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" fill="#f4f1ea"/><circle cx="90" cy="90" r="38" fill="none" stroke="#8a8a8a" stroke-width="10"/><path d="M118 118l34 34" stroke="#8a8a8a" stroke-width="12" stroke-linecap="round"/><text x="100" y="185" text-anchor="middle" font-family="Arial" font-size="16" fill="#666">BUSCAI</text></svg>`

// StaticFileServer serves company logos kept on disk and falls back to a
// placeholder for companies without one.
func StaticFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))

		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(placeholderLogoSVG))
	})
}
