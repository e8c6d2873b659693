package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"math2image/pkg/logging/logging"
)

// Recoverer turns a panic into the generic 406 every failed equation gets,
// so a bad input never takes the process down.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logging.L(r.Context()).Error("panic recovered",
					zap.Any("error", rec),
					zap.ByteString("stack", debug.Stack()),
				)

				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusNotAcceptable)
				_, _ = w.Write([]byte("Unexpected error"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
