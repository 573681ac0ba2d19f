package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"unum/pkg/requestcontext"
)

// requestIDHeader carries the caller-provided correlation ID, when any.
const requestIDHeader = "X-Request-ID"

// RequestID ensures every request has a correlation ID, echoing it back in
// the response so callers can quote it in support requests.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
