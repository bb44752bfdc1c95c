package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-whiteboard/config"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

const testSecret = "secret-key"

func sign(t *testing.T, secret string, claims *AccessClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func claimsFor(subject string) *AccessClaims {
	return &AccessClaims{
		Name: "Alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "whiteboard-users",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(&config.Config{
		JWTConfig:   config.JWTConfig{Secret: testSecret, Issuer: "whiteboard-users"},
		OIDCConfigs: []config.OIDCConfig{{Name: "google", ProviderUrl: "https://accounts.google.com"}},
	})
}

func TestAuthenticateAccessToken(t *testing.T) {
	a := newTestAuthenticator()
	token := sign(t, testSecret, claimsFor("alice@example.com"))

	r := httptest.NewRequest(http.MethodGet, "/ws/whiteboard/x?token="+token, nil)
	user, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, &types.User{Id: "alice@example.com", Nick: "Alice"}, user)

	r = httptest.NewRequest(http.MethodGet, "/api/rooms/x/elements", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	user, err = a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Id)
}

func TestAuthenticateEmailFallback(t *testing.T) {
	a := newTestAuthenticator()
	claims := claimsFor("")
	claims.Email = "bob@example.com"
	claims.Name = ""
	r := httptest.NewRequest(http.MethodGet, "/?token="+sign(t, testSecret, claims), nil)
	user, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, &types.User{Id: "bob@example.com", Nick: "bob@example.com"}, user)
}

func TestAuthenticateSubjectOnlyGetsGeneratedNick(t *testing.T) {
	a := newTestAuthenticator()
	claims := claimsFor("5b0f6c1e")
	claims.Name = ""
	claims.Email = ""
	r := httptest.NewRequest(http.MethodGet, "/?token="+sign(t, testSecret, claims), nil)
	user, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "5b0f6c1e", user.Id)
	assert.NotEmpty(t, user.Nick)
	assert.NotEqual(t, user.Id, user.Nick)
}

func TestAuthenticateRejects(t *testing.T) {
	a := newTestAuthenticator()
	expired := claimsFor("alice@example.com")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	otherIssuer := claimsFor("alice@example.com")
	otherIssuer.Issuer = "someone-else"

	tests := []struct {
		name   string
		token  string
		header string
		query  string
	}{
		{name: "no credentials"},
		{name: "wrong secret", token: sign(t, "other-secret", claimsFor("alice@example.com"))},
		{name: "expired", token: sign(t, testSecret, expired)},
		{name: "wrong issuer", token: sign(t, testSecret, otherIssuer)},
		{name: "no subject", token: sign(t, testSecret, claimsFor(""))},
		{name: "garbage", token: "not-a-token"},
		{name: "basic auth", header: "Basic YWxpY2U6c2VjcmV0"},
		{name: "unknown oidc provider", query: "id_token=abc&provider=nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/?" + tt.query
			if tt.token != "" {
				target = "/?token=" + tt.token
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			user, err := a.Authenticate(r)
			assert.Nil(t, user)
			assert.True(t, errors.Is(err, types.ErrUnauthenticated), "got %v", err)
		})
	}
}

func TestAccessTokensNeedSecret(t *testing.T) {
	a := NewAuthenticator(&config.Config{})
	r := httptest.NewRequest(http.MethodGet, "/?token="+sign(t, testSecret, claimsFor("alice")), nil)
	_, err := a.Authenticate(r)
	assert.True(t, errors.Is(err, types.ErrUnauthenticated))
}

func TestRejectsOtherSigningMethods(t *testing.T) {
	a := newTestAuthenticator()
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claimsFor("alice")).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.Authenticate(httptest.NewRequest(http.MethodGet, "/?token="+token, nil))
	assert.True(t, errors.Is(err, types.ErrUnauthenticated))
}

func TestPolicy(t *testing.T) {
	room := &types.Room{Id: "x", OwnerId: "alice", Tags: types.JSONStringMap{"moderators": "bob"}}
	alice := &types.User{Id: "alice"}
	bob := &types.User{Id: "bob"}

	p, err := NewPolicy(config.PolicyConfig{
		Clear: `User.Id == Room.OwnerId || User.Id in AsStringSlice(Room.Tags["moderators"])`,
	})
	require.NoError(t, err)

	allowed, err := p.Allowed(types.ActionClear, room, bob)
	require.NoError(t, err)
	assert.True(t, allowed)

	// restore has no expression and falls back to the owner
	allowed, err = p.Allowed(types.ActionRestore, room, bob)
	require.NoError(t, err)
	assert.False(t, allowed)
	allowed, err = p.Allowed(types.ActionRestore, room, alice)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = p.Allowed(types.ActionClear, room, nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestPolicyRejectsInvalidExpressions(t *testing.T) {
	_, err := NewPolicy(config.PolicyConfig{Restore: `User.Id ==`})
	assert.Error(t, err)
}
