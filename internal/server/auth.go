package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"nostrack/internal/auth"
)

type AuthConfig struct {
	Gate   auth.Gate
	Logger *log.Logger
}

// Principal is the authenticated admin identity bound to the request.
type Principal struct {
	Pubkey string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func adminPubkeyFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.Pubkey != "" {
		return p.Pubkey, nil
	}
	return "", unauthorized()
}

// unauthorized is the single client-visible rejection. Which check failed
// is logged server-side only.
func unauthorized() huma.StatusError {
	return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// newAuthMiddleware gates the admin subtree. Every admin request is
// independently re-authenticated; there is no session state. Public
// routes pass through untouched.
func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	adminPrefix := path.Join(basePath, "admin")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path != adminPrefix && !strings.HasPrefix(req.URL.Path, adminPrefix+"/") {
				next.ServeHTTP(w, req)
				return
			}
			pubkey, err := cfg.Gate.Authenticate(req.Header.Get("Authorization"))
			if err != nil {
				respondStatusError(w, unauthorized())
				return
			}
			ctx := withPrincipal(req.Context(), Principal{Pubkey: pubkey})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
