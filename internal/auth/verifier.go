// Package auth verifies bearer tokens issued by the campus identity
// provider. Token issuance (registration, login, password management) is
// someone else's service; this package only parses and validates the
// claims a request arrives with.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers malformed tokens, bad signatures, and
	// unsupported signing methods.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrTokenExpired is returned when exp has already passed.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrUnknownUserType is returned when user_type is not one of the
	// recognized roles.
	ErrUnknownUserType = errors.New("auth: unknown user_type")
)

// UserType is the caller's role, carried in the token's user_type claim.
type UserType string

const (
	UserTypeStudent   UserType = "student"
	UserTypeLecturer  UserType = "lecturer"
	UserTypeStaff     UserType = "staff"
	UserTypeAdmin     UserType = "admin"
)

func (t UserType) valid() bool {
	switch t {
	case UserTypeStudent, UserTypeLecturer, UserTypeStaff, UserTypeAdmin:
		return true
	default:
		return false
	}
}

// Claims is the token payload the gateway trusts once VerifyToken has
// validated the signature and expiry.
type Claims struct {
	Sub      string   `json:"sub"`
	UserType UserType `json:"user_type"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens signed with a shared HMAC secret by the
// identity provider. It never issues tokens itself.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier around the shared signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyToken parses and validates a raw Authorization header value (with
// or without the "Bearer " prefix), checking the signature, expiry, and
// that user_type names a recognized role.
func (v *Verifier) VerifyToken(header string) (*Claims, error) {
	tokenString := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.UserType.valid() {
		return nil, ErrUnknownUserType
	}

	return claims, nil
}
