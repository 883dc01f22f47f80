package frontend

import (
	"bytes"
	"context"
	"embed"
	"io/fs"
	"net/http"

	"github.com/a-h/templ"
)

//go:embed static/styles.css
var staticAssets embed.FS

func StaticHandler() http.Handler {
	subFS, err := fs.Sub(staticAssets, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(subFS))
}

// RenderString renders a component into memory, for pushing fragments over SSE.
func RenderString(ctx context.Context, c templ.Component) (string, error) {
	var buf bytes.Buffer
	if err := c.Render(ctx, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
