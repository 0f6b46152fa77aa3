// Package kit holds the context plumbing shared by the scel service:
// typed context keys and accessors for per-request identity and tracing.
package kit

import "context"

type contextKey string

const (
	TraceIDKey    contextKey = "kit_trace_id"
	ClientIDKey   contextKey = "kit_client_id"
	RemoteAddrKey contextKey = "kit_remote_addr"
)

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// WithClientID stores the rate-limit identity derived for this request.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ClientIDKey, id)
}
func GetClientID(ctx context.Context) string {
	v, _ := ctx.Value(ClientIDKey).(string)
	return v
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}
func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(RemoteAddrKey).(string)
	return v
}
