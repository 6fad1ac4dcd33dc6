package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/josh-kwaku/horse-sheet/internal/handler"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
)

// Recovery turns a handler panic into a 500 envelope. http.ErrAbortHandler
// is re-raised so net/http can abort the connection quietly.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			logging.FromContext(r.Context()).Error("panic recovered",
				"error", rec,
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"route", routePattern(r),
				"stack", string(debug.Stack()),
			)
			handler.RespondAppError(w, handler.ErrInternalError, nil)
		}()
		next.ServeHTTP(w, r)
	})
}
