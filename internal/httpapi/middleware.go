package httpapi

import "net/http"

// securityHeadersMiddleware strips version-revealing headers and sets a
// generic Server header, the same hardening concern as the teacher's
// internal/server/middleware.go. Simplified to a plain pre-handler
// header set: every handler here returns a small JSON body through
// respondJSON/respondError rather than the teacher's SSE/streaming
// paths, so the header-interception wrapper that guards against a
// handler writing before WriteHeader is unnecessary.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "agentcoord")
		w.Header().Del("X-Powered-By")
		next.ServeHTTP(w, r)
	})
}
