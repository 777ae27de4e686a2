package verifier

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/dropDatabas3/beout-auth/internal/auth"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sign(t *testing.T, method jwtv5.SigningMethod, key any, claims jwtv5.MapClaims) string {
	t.Helper()
	tok := jwtv5.NewWithClaims(method, claims)
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func baseClaims(iss, aud string) jwtv5.MapClaims {
	return jwtv5.MapClaims{
		"iss":            iss,
		"aud":            aud,
		"sub":            "1234567890",
		"email":          "Ana@Example.com",
		"email_verified": true,
		"name":           "Ana López",
		"given_name":     "Ana",
		"family_name":    "López",
		"iat":            testNow.Add(-time.Minute).Unix(),
		"exp":            testNow.Add(time.Hour).Unix(),
	}
}

func newGoogleVerifier(t *testing.T, pub crypto.PublicKey) *OIDC {
	t.Helper()
	v, err := New(Config{
		Provider:  auth.ProviderGoogle,
		Issuer:    GoogleIssuer,
		Audiences: []string{"web.apps.googleusercontent.com", "ios.apps.googleusercontent.com"},
		Algs:      []string{oidc.RS256},
		KeySet:    &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{pub}},
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return v
}

func TestGoogleVerify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := newGoogleVerifier(t, &key.PublicKey)
	ctx := context.Background()

	raw := sign(t, jwtv5.SigningMethodRS256, key, baseClaims(GoogleIssuer, "ios.apps.googleusercontent.com"))
	a, err := v.Verify(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, auth.ProviderGoogle, a.Provider)
	assert.Equal(t, "1234567890", a.ProviderUserID)
	assert.Equal(t, "Ana@Example.com", a.Email)
	assert.True(t, a.EmailVerified)
	assert.Equal(t, "Ana", a.GivenName)

	// Google a veces emite el issuer sin esquema.
	raw = sign(t, jwtv5.SigningMethodRS256, key, baseClaims("accounts.google.com", "web.apps.googleusercontent.com"))
	_, err = v.Verify(ctx, raw)
	assert.NoError(t, err)
}

func TestGoogleVerifyRejects(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := newGoogleVerifier(t, &key.PublicKey)

	expired := baseClaims(GoogleIssuer, "web.apps.googleusercontent.com")
	expired["exp"] = testNow.Add(-time.Minute).Unix()
	noEmail := baseClaims(GoogleIssuer, "web.apps.googleusercontent.com")
	delete(noEmail, "email")

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"bad audience": sign(t, jwtv5.SigningMethodRS256, key, baseClaims(GoogleIssuer, "someone-else")),
		"bad issuer":   sign(t, jwtv5.SigningMethodRS256, key, baseClaims("https://evil.example.com", "web.apps.googleusercontent.com")),
		"bad key":      sign(t, jwtv5.SigningMethodRS256, other, baseClaims(GoogleIssuer, "web.apps.googleusercontent.com")),
		"expired":      sign(t, jwtv5.SigningMethodRS256, key, expired),
		"no email":     sign(t, jwtv5.SigningMethodRS256, key, noEmail),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), raw)
			assert.ErrorIs(t, err, auth.ErrInvalidAssertion)
		})
	}
}

func TestAppleVerifyES256StringEmailVerified(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	v, err := New(Config{
		Provider:  auth.ProviderApple,
		Issuer:    AppleIssuer,
		Audiences: []string{"com.beout.app"},
		Algs:      []string{oidc.RS256, oidc.ES256},
		KeySet:    &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}},
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)

	claims := baseClaims(AppleIssuer, "com.beout.app")
	claims["email"] = "x1y2@privaterelay.appleid.com"
	claims["email_verified"] = "true"
	delete(claims, "name")
	delete(claims, "given_name")
	delete(claims, "family_name")

	a, err := v.Verify(context.Background(), sign(t, jwtv5.SigningMethodES256, key, claims))
	require.NoError(t, err)
	assert.Equal(t, auth.ProviderApple, a.Provider)
	assert.True(t, a.EmailVerified)
	assert.Empty(t, a.DisplayName)
}

func TestNewRequiresAudienceAndKeys(t *testing.T) {
	_, err := New(Config{Provider: auth.ProviderGoogle, Issuer: GoogleIssuer, KeySet: &oidc.StaticKeySet{}})
	assert.Error(t, err)
	_, err = New(Config{Provider: auth.ProviderGoogle, Issuer: GoogleIssuer, Audiences: []string{"x"}})
	assert.Error(t, err)
}
