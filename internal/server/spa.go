package server

import (
	"net/http"
	"path"
)

// SPAHandler serves files under root. Paths that are not regular files fall
// back to the index document so client-side routes resolve.
func SPAHandler(root, index string) http.Handler {
	fsys := http.Dir(root)
	fileServer := http.FileServer(fsys)

	serveIndex := func(w http.ResponseWriter, r *http.Request) {
		f, err := fsys.Open("/" + index)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil || st.IsDir() {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, index, st.ModTime(), f)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		f, err := fsys.Open(name)
		if err != nil {
			serveIndex(w, r)
			return
		}
		st, err := f.Stat()
		f.Close()
		if err != nil || st.IsDir() {
			serveIndex(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}
