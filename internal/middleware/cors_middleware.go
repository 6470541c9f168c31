package middleware

import (
	"net/http"
	"strings"

	"lesson-notes-sync/pkg/response"
)

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CORSMiddleware answers preflights itself: 204 for an allowed origin, 403
// for a browser origin that is not on the list.
func CORSMiddleware(allowedOrigins, allowedMethods, allowedHeaders string) func(http.Handler) http.Handler {
	origins := splitList(allowedOrigins)
	methods := strings.Join(splitList(allowedMethods), ", ")
	headers := strings.Join(splitList(allowedHeaders), ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := origin == ""
			for _, o := range origins {
				if o == "*" && origin == "" {
					w.Header().Set("Access-Control-Allow-Origin", "*")
					break
				}
				if o == "*" || o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
					allowed = true
					break
				}
			}

			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				if !allowed {
					response.Forbidden(w, "Origin not allowed")
					return
				}
				response.NoContent(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
