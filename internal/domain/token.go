package domain

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

type TokenStatus string

const (
	TokenAllowed TokenStatus = "ALLOWED"
	TokenBlocked TokenStatus = "BLOCKED"
)

// AccessToken is an opaque bearer credential plus its effective status. The
// Base64Encoded flag marks tokens that must be re-encoded on the wire before
// comparison (required from OCPI 2.2 onward).
type AccessToken struct {
	Token         string      `json:"token"`
	Status        TokenStatus `json:"status"`
	Base64Encoded bool        `json:"base64_encoded"`
}

// NewAccessToken generates a fresh random token in ALLOWED state.
func NewAccessToken() AccessToken {
	return AccessToken{Token: GenerateToken(), Status: TokenAllowed}
}

// GenerateToken returns 32 hex characters of cryptographic randomness.
func GenerateToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// EncodeWireToken prepares a token for the Authorization header of the given
// protocol version.
func EncodeWireToken(token string, version VersionID) string {
	if CapabilitiesFor(version).Base64Token {
		return base64.StdEncoding.EncodeToString([]byte(token))
	}
	return token
}

// DecodeWireToken reverses EncodeWireToken for inbound requests. Because the
// version is not always known before the token is resolved, callers try the
// raw form first and fall back to the decoded form.
func DecodeWireToken(wire string) (string, bool) {
	decoded, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}
