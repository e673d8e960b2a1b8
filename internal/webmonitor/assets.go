package webmonitor

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// assetHandler serves /assets/ from the build dir, then the assets dir, then
// the stylesheet compiled into the binary.
type assetHandler struct {
	buildDir  string
	assetsDir string
	started   time.Time
}

func newAssetHandler(buildDir, assetsDir string) *assetHandler {
	return &assetHandler{
		buildDir:  buildDir,
		assetsDir: assetsDir,
		started:   time.Now(),
	}
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(r.URL.Path)
	for _, dir := range []string{h.buildDir, h.assetsDir} {
		if dir == "" {
			continue
		}
		if path := filepath.Join(dir, filename); fileExists(path) {
			http.ServeFile(w, r, path)
			return
		}
	}

	if filename == "monitor.css" {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		http.ServeContent(w, r, filename, h.started, strings.NewReader(monitorCSS))
		return
	}
	http.NotFound(w, r)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
