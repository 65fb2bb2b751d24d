// Package middleware provides HTTP middleware for the edd control API.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// =============================================================================
// Principal
// =============================================================================

// Principal is the authenticated client identity taken from the mutual
// TLS handshake.
type Principal struct {
	// CommonName is the subject CN of the verified client certificate.
	CommonName string
}

type contextKey struct{}

// WithPrincipal stores the principal in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom extracts the principal from the context.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// =============================================================================
// Client Certificate Auth Middleware
// =============================================================================

// ClientCertAuth rejects any request whose connection did not present a
// client certificate verified against the configured trust anchor. The
// TLS listener performs the actual chain verification; this middleware
// is the request-level gate that keeps unauthenticated requests from
// ever reaching a handler, and it attaches the certificate identity to
// the request context for logging.
func ClientCertAuth(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
				logger.Warn("rejected request without client certificate",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				writeJSONError(w, http.StatusUnauthorized, "client certificate required")
				return
			}

			principal := Principal{
				CommonName: r.TLS.PeerCertificates[0].Subject.CommonName,
			}
			r = r.WithContext(WithPrincipal(r.Context(), principal))

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  "auth_error",
	})
}
