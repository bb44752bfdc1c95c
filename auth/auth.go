package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tcriess/lightspeed-whiteboard/config"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

// Authenticator establishes the identity behind an HTTP request. Supported credentials, in this order:
//   - an access token, either as "Authorization: Bearer <token>" header or as "token" query parameter (needs jwt.secret)
//   - an OIDC ID token in the "id_token" query parameter, together with the configured provider name in "provider"
//
// Browsers cannot set headers on websocket requests, hence the query parameters.
type Authenticator struct {
	jwt  *jwtVerifier
	oidc *oidcVerifiers
}

func NewAuthenticator(cfg *config.Config) *Authenticator {
	a := &Authenticator{oidc: newOIDCVerifiers(cfg.OIDCConfigs)}
	if cfg.JWTConfig.Secret != "" {
		a.jwt = &jwtVerifier{secret: []byte(cfg.JWTConfig.Secret), issuer: cfg.JWTConfig.Issuer}
	}
	return a
}

// Authenticate returns the user of the request. Missing or invalid credentials yield an error wrapping
// types.ErrUnauthenticated.
func (a *Authenticator) Authenticate(r *http.Request) (*types.User, error) {
	vals := r.URL.Query()
	token := vals.Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return nil, fmt.Errorf("%w: invalid authorization header format", types.ErrUnauthenticated)
		}
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token != "" {
		if a.jwt == nil {
			return nil, fmt.Errorf("%w: access tokens are not configured", types.ErrUnauthenticated)
		}
		return a.jwt.Authenticate(token)
	}
	if idToken := vals.Get("id_token"); idToken != "" {
		return a.oidc.Authenticate(r.Context(), idToken, vals.Get("provider"))
	}
	return nil, types.ErrUnauthenticated
}
