package server

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed public
var publicFS embed.FS

// staticHandler serves the embedded front-end; "/" resolves to index.html.
func staticHandler() http.Handler {
	sub, err := fs.Sub(publicFS, "public")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
