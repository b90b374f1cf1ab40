package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Claims is the payload carried by an access token. Image travels with the
// session so callers can render the author avatar without a user lookup.
type Claims struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
	JTI   string `json:"jti"`
	Exp   int64  `json:"exp"`
}

func (c Claims) complete() bool {
	return c.Sub != "" && c.Name != "" && c.JTI != "" && c.Exp != 0
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// IssueToken serializes the claims and appends an HMAC-SHA256 signature.
// The result is payload.signature, both base64url without padding.
func IssueToken(secret []byte, claims Claims) (string, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + sign(secret, payload), nil
}

// ParseToken verifies the signature before decoding, so malformed input is
// rejected without ever being unmarshaled.
func ParseToken(secret []byte, token string) (Claims, error) {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(sign(secret, payload))) {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil || !claims.complete() {
		return Claims{}, ErrInvalidToken
	}
	if !time.Now().Before(time.Unix(claims.Exp, 0)) {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// HashToken is used for refresh tokens so the raw value never hits storage.
func HashToken(value string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(value)))
}
