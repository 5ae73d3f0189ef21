// README: Token verification contract shared by the Firebase and JWT verifiers.
package infra

import "context"

// Token holds the verified identity used by downstream middleware.
type Token struct {
	UID    string
	Claims map[string]interface{}
}

// Role returns the "role" claim, or "" when absent.
func (t *Token) Role() string {
	if t == nil || t.Claims == nil {
		return ""
	}
	role, _ := t.Claims["role"].(string)
	return role
}

// TokenVerifier verifies a raw bearer token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Token, error)
}
