package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/nearverify/internal/model"
)

// WebhookSecretHeader は検証プロバイダのコールバックが共有シークレットを載せるヘッダー。
const WebhookSecretHeader = "X-Webhook-Secret"

// NewSharedSecretMiddleware は header の値が secret と一致するリクエストのみを通すミドルウェアを返す。
// secret が空の場合はすべて拒否する。
func NewSharedSecretMiddleware(header, secret string) func(next http.Handler) http.Handler {
	return newCredentialMiddleware(secret, "shared_secret", func(r *http.Request) string {
		return r.Header.Get(header)
	})
}

// NewBearerTokenMiddleware は Authorization: Bearer <token> が一致するリクエストのみを通すミドルウェアを返す。
// token が空の場合はすべて拒否する（管理APIの無効化）。
func NewBearerTokenMiddleware(token string) func(next http.Handler) http.Handler {
	return newCredentialMiddleware(token, "bearer", bearerToken)
}

func newCredentialMiddleware(expected, scheme string, extract func(*http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !credentialMatches(expected, extract(r)) {
				slog.Warn("authentication failed",
					slog.String("scheme", scheme),
					slog.String("path", r.URL.Path),
					slog.String("client_ip", ClientIP(r)),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func credentialMatches(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
