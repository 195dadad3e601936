package logging

import (
	"context"
	"net/http"

	"go.viam.com/utils"
)

type debugLogKeyType int

const debugLogKeyID = debugLogKeyType(iota)

// DebugHeader is the request header that turns on debug logging for one request. Its value names
// the request in the logs; "true" or "1" picks a random name.
const DebugHeader = "X-Debug-Log"

// EnableDebugMode returns a new context with debug logging state attached. An empty `debugLogKey`
// generates a random value.
func EnableDebugMode(ctx context.Context, debugLogKey string) context.Context {
	if debugLogKey == "" {
		debugLogKey = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, debugLogKeyID, debugLogKey)
}

// IsDebugMode returns whether the input context has debug logging enabled.
func IsDebugMode(ctx context.Context) bool {
	return GetName(ctx) != ""
}

// GetName returns the debug log key included when enabling the context for debug logging.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(debugLogKeyID).(string); ok {
		return val
	}
	return ""
}

// DebugHandler enables debug mode on the request context of requests carrying DebugHeader.
func DebugHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(DebugHeader)
		switch key {
		case "":
			next.ServeHTTP(w, r)
			return
		case "true", "1":
			key = ""
		}
		next.ServeHTTP(w, r.WithContext(EnableDebugMode(r.Context(), key)))
	})
}
