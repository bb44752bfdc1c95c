package auth

import (
	"errors"
	"fmt"

	"github.com/folkengine/goname"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

// AccessClaims are the claims of an access token issued by the identity service. The subject is the user id.
type AccessClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// jwtVerifier validates HS256 signed access tokens.
type jwtVerifier struct {
	secret []byte
	issuer string
}

func (v *jwtVerifier) Authenticate(tokenString string) (*types.User, error) {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", types.ErrUnauthenticated)
	}
	userId := claims.Subject
	if userId == "" {
		userId = claims.Email
	}
	if userId == "" {
		return nil, fmt.Errorf("%w: token without subject", types.ErrUnauthenticated)
	}
	nick := claims.Name
	if nick == "" {
		nick = claims.Email
	}
	if nick == "" {
		// opaque subjects make poor display names
		nick = goname.New(goname.FantasyMap).FirstLast()
	}
	return &types.User{Id: userId, Nick: nick}, nil
}
