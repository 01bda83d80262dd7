package httpapi

import (
	"net/http"
	"path"
	"strings"
)

// cleanBasePath returns prefix in "/a/b" form, or "" when the API is served
// from the root.
func cleanBasePath(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	cleaned := path.Clean("/" + prefix)
	if cleaned == "/" {
		return ""
	}
	return cleaned
}

// mountBasePath serves handler below prefix. The bare prefix redirects to
// prefix + "/" and everything outside it is not found.
func mountBasePath(prefix string, handler http.Handler) http.Handler {
	if prefix == "" {
		return handler
	}
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}
