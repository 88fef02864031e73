// Package qrtoken encodes and verifies the payload printed on student QR codes.
package qrtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Delimiter separates the token fields.
const Delimiter = "-"

// TagLength is the number of hex characters kept from the HMAC digest.
const TagLength = 16

var (
	// ErrMalformed is returned when a raw token does not split into three non-empty fields.
	ErrMalformed = errors.New("malformed token")
	// ErrReservedDelimiter is returned when an organization identifier contains the delimiter.
	ErrReservedDelimiter = errors.New("organization identifier contains reserved delimiter")
	// ErrEmptySecret is returned when signing is attempted without a secret.
	ErrEmptySecret = errors.New("token secret is empty")
)

// Token is the decoded QR payload.
type Token struct {
	StudentExternalID string
	OrganizationID    string
	Tag               string
}

// Payload is the string covered by the integrity tag.
func (t Token) Payload() string {
	return payload(t.StudentExternalID, t.OrganizationID)
}

// String renders the token in its printed form.
func (t Token) String() string {
	return t.StudentExternalID + Delimiter + t.OrganizationID + Delimiter + t.Tag
}

// Validate recomputes the tag with secret and compares it to the carried one.
func (t Token) Validate(secret []byte) bool {
	return Verify(t.Payload(), t.Tag, secret)
}

// Encode builds "{student}-{organization}-{tag}" signed with secret.
func Encode(studentExternalID, organizationID string, secret []byte) (string, error) {
	if studentExternalID == "" || organizationID == "" {
		return "", ErrMalformed
	}
	if strings.Contains(organizationID, Delimiter) {
		return "", ErrReservedDelimiter
	}
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	tok := Token{
		StudentExternalID: studentExternalID,
		OrganizationID:    organizationID,
		Tag:               Sign(payload(studentExternalID, organizationID), secret),
	}
	return tok.String(), nil
}

// Decode splits a raw token. The tag is the last field and the organization
// the one before it, so student ids may themselves contain the delimiter.
func Decode(raw string) (Token, error) {
	parts := strings.Split(strings.TrimSpace(raw), Delimiter)
	if len(parts) < 3 {
		return Token{}, ErrMalformed
	}
	for _, p := range parts {
		if p == "" {
			return Token{}, ErrMalformed
		}
	}
	n := len(parts)
	return Token{
		StudentExternalID: strings.Join(parts[:n-2], Delimiter),
		OrganizationID:    parts[n-2],
		Tag:               parts[n-1],
	}, nil
}

// Sign returns the truncated hex HMAC-SHA256 of payload.
func Sign(payload string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))[:TagLength]
}

// Verify reports whether tag matches payload under secret.
func Verify(payload, tag string, secret []byte) bool {
	if len(secret) == 0 || len(tag) != TagLength {
		return false
	}
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(tag)))
}

// payload has no issue time: a code stays valid until the organization
// secret it was signed with is rotated.
func payload(studentExternalID, organizationID string) string {
	return studentExternalID + "|" + organizationID
}
