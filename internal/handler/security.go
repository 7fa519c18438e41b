package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

// HeaderAPIKey carries machine credentials such as the payment gateway's.
const HeaderAPIKey = "X-API-Key"

type identityHandler func(w http.ResponseWriter, r *http.Request, id *auth.Identity)

// authed requires a valid bearer token and passes the verified identity on.
func (h *Handler) authed(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, r, auth.ErrUnauthenticated)
			return
		}
		id, err := h.Verifier.Verify(r.Context(), raw)
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx := auth.WithIdentity(r.Context(), id)
		ctx = zctx.With(ctx, zap.String("user_id", id.UserID))
		next(w, r.WithContext(ctx), id)
	}
}

// admin is authed plus a permission check.
func (h *Handler) admin(p auth.Permission, next identityHandler) http.HandlerFunc {
	return h.authed(func(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
		if err := id.Require(p); err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r, id)
	})
}

// gateway authenticates a machine caller by API key. The presented key is
// HMAC-SHA256 hashed with the pepper, looked up, compared in constant time
// and checked for scope.
func (h *Handler) gateway(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderAPIKey)
		if key == "" {
			writeError(w, r, auth.ErrUnauthenticated)
			return
		}

		hash := HashAPIKey(h.pepper, key)
		info, err := h.APIKeys.FindByHash(r.Context(), hex.EncodeToString(hash))
		if err != nil {
			zctx.From(r.Context()).Debug("API key lookup failed", zap.Error(err))
			writeError(w, r, auth.ErrUnauthenticated)
			return
		}

		stored, err := hex.DecodeString(info.KeyHash)
		if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
			writeError(w, r, auth.ErrUnauthenticated)
			return
		}
		if !info.HasScope(scope) {
			writeError(w, r, auth.ErrForbidden)
			return
		}

		ctx := zctx.With(r.Context(), zap.String("api_key", info.Name))
		next(w, r.WithContext(ctx))
	}
}

// HashAPIKey returns HMAC-SHA256(pepper, key).
func HashAPIKey(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

func bearerToken(r *http.Request) (string, bool) {
	v := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
