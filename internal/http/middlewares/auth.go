package middlewares

import (
	"net/http"
	"strings"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// RequireAuth validates Authorization: Bearer <JWT> signed with the shared
// API secret and stores the subject (owner user id) in the context. The
// broker does not mint these tokens; the surrounding platform does.
func RequireAuth(secret string) Middleware {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ah := strings.TrimSpace(r.Header.Get("Authorization"))
			if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token", error_description="missing bearer token"`)
				unauthorized(w)
				return
			}
			raw := strings.TrimSpace(ah[len("Bearer "):])

			claims := jwtv5.MapClaims{}
			_, err := jwtv5.ParseWithClaims(raw, claims, func(t *jwtv5.Token) (any, error) {
				if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
					return nil, jwtv5.ErrSignatureInvalid
				}
				return key, nil
			}, jwtv5.WithValidMethods([]string{"HS256"}))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
				unauthorized(w)
				return
			}

			sub, _ := claims.GetSubject()
			if sub == "" {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(setUserID(r.Context(), sub)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
