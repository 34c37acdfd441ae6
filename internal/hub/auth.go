package hub

import (
	"fmt"

	"jobinbox/contracts/ws"
	"jobinbox/pkg/util"
)

// NewJWTAuthenticator verifies the token of an auth message. The bare email
// form is accepted only when allowEmail is set (local development without JWT).
func NewJWTAuthenticator(secret string, allowEmail bool) Authenticator {
	return func(req ws.AuthRequest) (string, error) {
		if req.Token != "" && secret != "" {
			claims, err := util.ParseJWT(req.Token, secret)
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
			}
			return claims.Email, nil
		}
		if allowEmail && req.Email != "" {
			return req.Email, nil
		}
		return "", ErrUnauthenticated
	}
}
