package api

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/kioskworks/signage/internal/log"
)

// uploadsFileServer serves the uploads tree read-only with traversal and
// symlink-escape checks. Players fetch content/logos/backgrounds from here.
func (s *Server) uploadsFileServer() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "api")

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		path := r.URL.Path
		if isPathTraversal(path) {
			logger.Warn().
				Str("event", "file_req.denied").
				Str("path", path).
				Str("reason", "path_escape").
				Msg("detected traversal sequence")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if path == "" || strings.HasSuffix(path, "/") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		base, err := filepath.Abs(filepath.Join(s.cfg.DataDir, "uploads"))
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		fullPath := filepath.Join(base, filepath.FromSlash(path))

		realPath, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			if os.IsNotExist(err) {
				http.Error(w, "Not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		realBase, err := filepath.EvalSymlinks(base)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if realPath != realBase && !strings.HasPrefix(realPath, realBase+string(filepath.Separator)) {
			logger.Warn().
				Str("event", "file_req.denied").
				Str("path", path).
				Str("reason", "symlink_escape").
				Msg("resolved path escapes uploads dir")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		info, err := os.Stat(realPath)
		if err != nil || info.IsDir() {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		http.ServeFile(w, r, realPath)
	})
}

// isPathTraversal rejects dot-dot sequences including URL-encoded variants
// and NUL bytes, checked across repeated decode passes.
func isPathTraversal(path string) bool {
	candidate := path
	for i := 0; i < 3; i++ {
		if strings.Contains(candidate, "..") || strings.ContainsRune(candidate, 0) {
			return true
		}
		decoded, err := url.PathUnescape(candidate)
		if err != nil || decoded == candidate {
			break
		}
		candidate = decoded
	}
	return strings.Contains(candidate, "..") || strings.ContainsRune(candidate, 0)
}
