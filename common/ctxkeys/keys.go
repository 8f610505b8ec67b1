// Package ctxkeys holds context keys shared by middleware and loggers.
package ctxkeys

type contextKey string

const (
	TraceIDKey   contextKey = "trace_id"
	RequestIDKey contextKey = "request_id"

	RemoteAddrKey contextKey = "remote_addr"
	UserAgentKey  contextKey = "user_agent"
)
