package auth

import "context"

// ScopePaymentWebhook is the API key scope required to report payment results.
const ScopePaymentWebhook = "payment_webhook"

// APIKeyInfo describes a machine credential, such as the payment gateway's.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was issued with scope s.
func (k *APIKeyInfo) HasScope(s string) bool {
	for _, sc := range k.Scopes {
		if sc == s {
			return true
		}
	}
	return false
}

// APIKeyRepository provides lookup of API keys by their HMAC hash.
type APIKeyRepository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
