package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret-at-least-32-bytes-long"

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestVerifyTokenAcceptsValidStudentToken(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := signToken(t, Claims{
		Sub:      "s1",
		UserType: UserTypeStudent,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.VerifyToken("Bearer " + raw)
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.Sub)
	assert.Equal(t, UserTypeStudent, claims.UserType)
}

func TestVerifyTokenStripsBearerPrefixOptionally(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := signToken(t, Claims{
		Sub:      "s1",
		UserType: UserTypeAdmin,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})

	claims, err := v.VerifyToken(raw)
	require.NoError(t, err)
	assert.Equal(t, UserTypeAdmin, claims.UserType)
}

func TestVerifyTokenRejectsExpiredToken(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := signToken(t, Claims{
		Sub:      "s1",
		UserType: UserTypeStudent,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	})

	_, err := v.VerifyToken(raw)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	raw := signToken(t, Claims{
		Sub:      "s1",
		UserType: UserTypeStudent,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})

	v := NewVerifier("a-completely-different-secret-value")
	_, err := v.VerifyToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsUnknownUserType(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := signToken(t, Claims{
		Sub:      "s1",
		UserType: "superuser",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})

	_, err := v.VerifyToken(raw)
	assert.ErrorIs(t, err, ErrUnknownUserType)
}

func TestVerifyTokenRejectsUnsignedAlgNone(t *testing.T) {
	v := NewVerifier(testSecret)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Sub:      "s1",
		UserType: UserTypeStudent,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.VerifyToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
