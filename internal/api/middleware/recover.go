package middleware

import (
	"fmt"
	"net/http"

	"github.com/dvloznov/churn-analytics/internal/logger"
)

// Recover turns a handler panic into a 500 JSON response. It logs through
// the request-scoped logger, so it belongs inside AccessLog.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			log := logger.FromContext(r.Context())
			log.Error().
				Str("panic", fmt.Sprint(v)).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("Handler panicked")
			WriteError(w, http.StatusInternalServerError, "Internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}
