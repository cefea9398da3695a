package api

import (
	"io/fs"
	"net/http"
	"os"
	"strings"
)

// artifactFiles serves published evidence images. Artifact names embed a
// timestamp and are never rewritten, so responses are cached aggressively.
type artifactFiles struct {
	dir    string
	prefix string
}

func newArtifactFiles(dir, prefix string) *artifactFiles {
	return &artifactFiles{dir: dir, prefix: strings.TrimRight(prefix, "/")}
}

// Handler returns a read-only file server without directory listings.
func (a *artifactFiles) Handler() http.Handler {
	fileServer := http.FileServerFS(noListFS{os.DirFS(a.dir)})
	stripped := http.StripPrefix(a.prefix+"/", fileServer)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		stripped.ServeHTTP(w, r)
	})
}

// noListFS hides directories from the file server.
type noListFS struct {
	fsys fs.FS
}

func (n noListFS) Open(name string) (fs.File, error) {
	f, err := n.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, err
	}
	if info.IsDir() {
		f.Close() //nolint:errcheck
		return nil, fs.ErrNotExist
	}
	return f, nil
}
