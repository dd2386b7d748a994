package authn

import (
	"encoding/json"
	"net/http"

	"github.com/lnvps/lnvpsd/pkg/catalog"
)

// RequirePermission returns middleware that rejects requests whose
// authenticated Identity does not hold the given (resource, action)
// permission. Must run after Middleware.
func RequirePermission(resource catalog.PermissionResource, action catalog.PermissionAction) func(http.Handler) http.Handler {
	perm := catalog.Permission{Resource: resource, Action: action}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				respondForbidden(w, "authentication required")
				return
			}
			if !id.Has(perm) {
				respondForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondForbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "forbidden",
		"message": message,
	})
}
