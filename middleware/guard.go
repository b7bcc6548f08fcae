package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/cadencehq/authcore"
)

type identityContextKey struct{}

// IdentityFromContext returns the authenticated identity stored by Guard.
func IdentityFromContext(ctx context.Context) (*authcore.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*authcore.Identity)
	return id, ok
}

// Guard authenticates the bearer token via the service (signature,
// token version, account block) and then applies the rule policy. A
// policy without its own SuperRule inherits the service-wide one.
func Guard(svc *authcore.Service, policy Policy) func(http.Handler) http.Handler {
	if policy.SuperRule == "" {
		policy.SuperRule = svc.SuperRule()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			id, err := svc.Authorize(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !policy.Allows(id.Rules) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}
