package tenant

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/apotek-erp/apotek-erp/internal/platform/httpx"
)

// HeaderName carries the tenant slug when subdomain routing is not in
// play (e.g. behind a path-based gateway).
const HeaderName = "X-Tenant"

// Middleware resolves the tenant for every request and stores it in
// context. Requests without a resolvable tenant are rejected before
// they reach any repository.
func Middleware(registry *Registry, logger *slog.Logger, requireAPIKey bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slug := Slug(r)
			t, err := registry.Resolve(r.Context(), slug)
			if err != nil {
				switch {
				case errors.Is(err, ErrUnknownTenant):
					httpx.Problem(w, http.StatusNotFound, "Unknown Tenant", "no tenant registered for this host")
				case errors.Is(err, ErrInactiveTenant):
					httpx.Problem(w, http.StatusForbidden, "Tenant Disabled", "this tenant is disabled")
				default:
					logger.Error("tenant resolve", slog.String("slug", slug), slog.Any("error", err))
					httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				}
				return
			}
			if requireAPIKey && t.APIKeyHash != "" {
				key := apiKey(r)
				if key == "" || bcrypt.CompareHashAndPassword([]byte(t.APIKeyHash), []byte(key)) != nil {
					httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid api key")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(ContextWith(r.Context(), t)))
		})
	}
}

// Slug extracts the tenant slug from the X-Tenant header, falling
// back to the first label of the Host subdomain.
func Slug(r *http.Request) string {
	if slug := r.Header.Get(HeaderName); slug != "" {
		return strings.ToLower(strings.TrimSpace(slug))
	}
	host := r.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	parts := strings.Split(host, ".")
	if len(parts) < 3 {
		return ""
	}
	return strings.ToLower(parts[0])
}

func apiKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}
