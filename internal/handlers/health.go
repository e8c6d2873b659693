package handlers

import (
	"io"
	"net/http"
)

// Healthz reports that the process is serving.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// Readyz reports the cache state. The service renders without a cache, so
// it always answers 200.
func Readyz(cacheState func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := "disabled"
		if cacheState != nil {
			state = cacheState()
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "cache="+state)
	}
}
