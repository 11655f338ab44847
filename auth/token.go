package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"moddash/crypto"
	"moddash/errs"
)

// ErrInvalidToken is a security error: the session was forged or altered.
var ErrInvalidToken = errs.Security("Invalid session token", nil)

// TokenSigner binds session tokens to the session they were issued for.
// A token carries the username, role and login time; the guard rejects a
// session whose fields disagree with its token.
type TokenSigner struct {
	key []byte
}

func NewTokenSigner(key []byte) *TokenSigner {
	return &TokenSigner{key: key}
}

type sessionClaims struct {
	Role      string `json:"role"`
	LoginNano int64  `json:"login_ns"`
	jwt.RegisteredClaims
}

// Issue returns a signed token with a fresh random ID.
func (s *TokenSigner) Issue(username, role string, loginTime time.Time) (string, error) {
	claims := sessionClaims{
		Role:      role,
		LoginNano: loginTime.UnixNano(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  username,
			IssuedAt: jwt.NewNumericDate(loginTime),
			ID:       crypto.GenerateToken(32),
			Issuer:   "moddash",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify checks the token signature and that it was issued for sess.
// Expiry is enforced by the guard from the login time, not by the token.
func (s *TokenSigner) Verify(sess *Session) error {
	if sess.Token == "" {
		return ErrInvalidToken
	}
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(sess.Token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.key, nil
	}, jwt.WithIssuer("moddash"))
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	if claims.Subject != sess.Username || claims.Role != sess.Role || claims.LoginNano != sess.LoginTime.UnixNano() {
		return ErrInvalidToken
	}
	return nil
}
