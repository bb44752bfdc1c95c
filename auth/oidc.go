package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/tcriess/lightspeed-whiteboard/config"
	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

// oidcVerifiers lazily discovers the configured OpenID Connect providers, one verifier per provider name.
type oidcVerifiers struct {
	configs   []config.OIDCConfig
	mu        sync.Mutex
	verifiers map[string]*oidc.IDTokenVerifier
}

func newOIDCVerifiers(configs []config.OIDCConfig) *oidcVerifiers {
	return &oidcVerifiers{configs: configs, verifiers: make(map[string]*oidc.IDTokenVerifier)}
}

func (v *oidcVerifiers) verifier(ctx context.Context, providerName string) (*oidc.IDTokenVerifier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if verifier, ok := v.verifiers[providerName]; ok {
		return verifier, nil
	}
	var oidcConf *config.OIDCConfig
	for i := range v.configs {
		if v.configs[i].Name == providerName {
			oidcConf = &v.configs[i]
			break
		}
	}
	if oidcConf == nil {
		return nil, fmt.Errorf("%w: unknown oidc provider %q", types.ErrUnauthenticated, providerName)
	}
	provider, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		return nil, err
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	verifier := provider.Verifier(&conf)
	v.verifiers[providerName] = verifier
	globals.AppLogger.Debug("oidc provider discovered", "provider", providerName, "url", oidcConf.ProviderUrl)
	return verifier, nil
}

// Authenticate verifies an OIDC ID token issued by the named provider. The user id is the "email" claim of the token,
// the nick its "name" claim (falling back to the email).
func (v *oidcVerifiers) Authenticate(ctx context.Context, idToken, providerName string) (*types.User, error) {
	verifier, err := v.verifier(ctx, providerName)
	if err != nil {
		return nil, err
	}
	verifiedIdToken, err := verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrUnauthenticated, err)
	}
	claims := struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}{}
	if err := verifiedIdToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrUnauthenticated, err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: id token without email claim", types.ErrUnauthenticated)
	}
	nick := claims.Name
	if nick == "" {
		nick = claims.Email
	}
	return &types.User{Id: claims.Email, Nick: nick}, nil
}
