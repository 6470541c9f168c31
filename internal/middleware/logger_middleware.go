package middleware

import (
	"bufio"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Hijack keeps websocket upgrades working behind the logger.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func LoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			lessonID := mux.Vars(r)["lessonId"]
			if lessonID == "" {
				lessonID = r.URL.Query().Get("lesson_id")
			}
			if lessonID == "" {
				lessonID = "-"
			}

			log.Printf("[HTTP] %s %s - Status: %d - Bytes: %d - Duration: %v - Lesson: %s",
				r.Method,
				r.URL.Path,
				rw.statusCode,
				rw.bytes,
				time.Since(start),
				lessonID,
			)
		})
	}
}
