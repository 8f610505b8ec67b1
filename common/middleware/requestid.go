package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/YaganovValera/feedbridge/common/ctxkeys"
)

// RequestIDHeader — заголовок, в котором передаётся и возвращается request ID.
const RequestIDHeader = "X-Request-ID"

// RequestID берёт X-Request-ID из запроса или генерирует новый и кладёт
// его в контекст вместе с адресом и user-agent вызывающего.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			ctx := context.WithValue(r.Context(), ctxkeys.RequestIDKey, reqID)
			ctx = context.WithValue(ctx, ctxkeys.RemoteAddrKey, r.RemoteAddr)
			ctx = context.WithValue(ctx, ctxkeys.UserAgentKey, r.UserAgent())
			w.Header().Set(RequestIDHeader, reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFrom достаёт request ID из контекста.
func RequestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxkeys.RequestIDKey).(string)
	return v
}
