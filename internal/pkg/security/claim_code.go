package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ClaimCodeVersion prefixes every claim code so the format can change later.
const ClaimCodeVersion = "rf1"

var (
	ErrClaimCodeFormat    = errors.New("invalid claim code format")
	ErrClaimCodeSignature = errors.New("invalid claim code signature")
)

// GenerateClaimCode signs subject into a printable, URL-safe code of the form
// rf1.<payload>.<signature>.
func GenerateClaimCode(subject []byte, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret is required for claim code generation")
	}
	if len(subject) == 0 {
		return "", errors.New("claim code subject is empty")
	}
	payload := base64.RawURLEncoding.EncodeToString(subject)
	sig := signClaimCode(payload, secret)
	return fmt.Sprintf("%s.%s.%s", ClaimCodeVersion, payload, base64.RawURLEncoding.EncodeToString(sig)), nil
}

// VerifyClaimCode checks the signature and returns the signed subject.
func VerifyClaimCode(code, secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("secret is required for claim code verification")
	}
	parts := strings.Split(strings.TrimSpace(code), ".")
	if len(parts) != 3 || parts[0] != ClaimCodeVersion {
		return nil, ErrClaimCodeFormat
	}
	subject, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(subject) == 0 {
		return nil, ErrClaimCodeFormat
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrClaimCodeFormat
	}
	if !hmac.Equal(sigBytes, signClaimCode(parts[1], secret)) {
		return nil, ErrClaimCodeSignature
	}
	return subject, nil
}

func signClaimCode(payload, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ClaimCodeVersion + "." + payload))
	return mac.Sum(nil)
}
