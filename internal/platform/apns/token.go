// Package apns implements the Apple Push Notification service integration:
// ES256 provider-token signing and the HTTP/2 delivery client.
package apns

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"time"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// Config holds the credentials required to sign APNs provider tokens and
// address the application topic.
type Config struct {
	// KeyID is the 10-character key identifier from the developer portal.
	KeyID string
	// TeamID is the 10-character team identifier.
	TeamID string
	// BundleID is the app bundle identifier, sent as apns-topic.
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file.
	P8KeyContent string
}

// AuthKeyFromBytes parses the PEM-encoded PKCS#8 content of a .p8 file.
// Anything other than a P-256 ECDSA key is a CredentialError: Apple only
// accepts ES256 provider tokens.
func AuthKeyFromBytes(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &dispatch.CredentialError{Reason: "p8 key is not valid PEM"}
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &dispatch.CredentialError{Reason: "p8 key is not PKCS#8", Err: err}
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, &dispatch.CredentialError{Reason: "p8 key is not an ECDSA key"}
	}
	if key.Curve != elliptic.P256() {
		return nil, &dispatch.CredentialError{Reason: "p8 key is not a P-256 key"}
	}
	return key, nil
}

// Signer produces signed APNs provider tokens (header.payload.signature).
// It holds the parsed key only; every Sign call produces a fresh token with
// the current wall clock as iat. Callers wanting reuse wrap it in a
// CachedSigner.
type Signer struct {
	authKey *ecdsa.PrivateKey
	keyID   string
	teamID  string
	now     func() time.Time
}

// NewSigner parses the P8 key immediately to fail fast on startup if the
// credential material is bad.
func NewSigner(cfg Config) (*Signer, error) {
	authKey, err := AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, err
	}
	return &Signer{
		authKey: authKey,
		keyID:   cfg.KeyID,
		teamID:  cfg.TeamID,
		now:     time.Now,
	}, nil
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

type tokenClaims struct {
	Iss string `json:"iss"`
	Iat int64  `json:"iat"`
}

// Sign builds and signs a provider token. The two JSON segments are encoded
// with the unpadded URL-safe base64 alphabet; Apple rejects padded or
// standard-alphabet encodings server-side.
func (s *Signer) Sign() (string, error) {
	headerJSON, err := json.Marshal(tokenHeader{Alg: "ES256", Kid: s.keyID})
	if err != nil {
		return "", &dispatch.CredentialError{Reason: "encoding token header", Err: err}
	}
	claimsJSON, err := json.Marshal(tokenClaims{Iss: s.teamID, Iat: s.now().Unix()})
	if err != nil {
		return "", &dispatch.CredentialError{Reason: "encoding token claims", Err: err}
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(claimsJSON)

	sum := sha256.Sum256([]byte(signingInput))
	r, sv, err := ecdsa.Sign(rand.Reader, s.authKey, sum[:])
	if err != nil {
		return "", &dispatch.CredentialError{Reason: "signing token", Err: err}
	}

	// JOSE ES256 signatures are the raw r||s pair, each left-padded to the
	// 32-byte curve size. ASN.1 encoding here would be rejected.
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	sv.FillBytes(sig[32:])

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
