package authn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// MaxClockSkew is the NIP-98 "|created_at - now| <= 600s" tolerance.
const MaxClockSkew = 600 * time.Second

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID      catalog.ID
	Pubkey      [32]byte
	Permissions []catalog.Permission
}

// Has reports whether the identity holds perm.
func (id Identity) Has(perm catalog.Permission) bool {
	return catalog.HasPermission(id.Permissions, perm)
}

type contextKey struct{}

func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the Identity middleware attached, or the zero value
// and false if the request was never authenticated.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// Middleware authenticates every request via the signed NIP-98-pattern
// event in the Authorization header, upserts the event's pubkey as a
// catalog.User, and attaches the resulting Identity and permission set to
// the request context. It rejects the request with 401 if
// no valid event is presented.
func Middleware(store *catalog.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authenticate(r, store)
			if err != nil {
				respondErr(w, http.StatusUnauthorized, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
		})
	}
}

func authenticate(r *http.Request, store *catalog.Store) (Identity, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Nostr "
	if !strings.HasPrefix(header, prefix) {
		return Identity{}, lnvpserr.Auth("missing Nostr authorization header")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return Identity{}, lnvpserr.Auth("invalid authorization encoding")
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Identity{}, lnvpserr.Auth("invalid authorization event")
	}

	if ev.Kind != KindHTTPAuth {
		return Identity{}, lnvpserr.Auth("unexpected event kind %d", ev.Kind)
	}

	skew := time.Since(time.Unix(ev.CreatedAt, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkew {
		return Identity{}, lnvpserr.Auth("event timestamp outside allowed skew")
	}

	if u, ok := ev.Tag("u"); !ok || u != r.URL.Path {
		return Identity{}, lnvpserr.Auth("event url tag does not match request path")
	}
	if m, ok := ev.Tag("method"); !ok || !strings.EqualFold(m, r.Method) {
		return Identity{}, lnvpserr.Auth("event method tag does not match request method")
	}

	if err := ev.Verify(); err != nil {
		return Identity{}, err
	}

	pubkey, err := ev.PubkeyBytes()
	if err != nil {
		return Identity{}, err
	}

	user, err := store.GetOrCreateUser(r.Context(), pubkey)
	if err != nil {
		return Identity{}, err
	}

	perms, err := store.UserPermissions(r.Context(), user.ID)
	if err != nil {
		return Identity{}, err
	}

	return Identity{UserID: user.ID, Pubkey: pubkey, Permissions: perms}, nil
}

func respondErr(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(lnvpserr.KindOf(err)),
		"message": err.Error(),
	})
}
