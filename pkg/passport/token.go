package passport

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/custodes-trust/custodes/pkg/faults"
)

// claims is the JSON payload embedded in a passport token. Unlike the
// operator session JWT (internal/auth, a standard 3-segment JWS), the
// passport wire format is a bespoke 2-segment scheme: base64url(payload)
// "." base64url(signature), with no header segment at all. That absence is
// what makes the verifier algorithm-locked by construction — there is no
// "alg" field in the token for an attacker to flip, the signing algorithm
// is fixed by server-side configuration.
type claims struct {
	Iss string `json:"iss"`
	Aud string `json:"aud"`
	Sub string `json:"sub"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
	Jti string `json:"jti"`
	Clr string `json:"clr"`
	Trs int    `json:"trs"`

	SubjectType   string `json:"subject_type"`
	InstitutionID string `json:"institution_id,omitempty"`
	Provider      string `json:"provider"`
	MFA           bool   `json:"mfa"`
	DeviceID      string `json:"device_id,omitempty"`
}

// SigningAlg selects the passport token's signature algorithm.
type SigningAlg string

const (
	AlgHS256 SigningAlg = "HS256"
	AlgRS256 SigningAlg = "RS256"
)

// TokenSigner signs and verifies passport tokens with a single, fixed
// algorithm chosen at construction — never negotiated from the token itself.
type TokenSigner struct {
	alg        SigningAlg
	hmacKey    []byte
	rsaPriv    *rsa.PrivateKey
	rsaPub     *rsa.PublicKey
	issuer     string
	defaultAud string
}

// NewHMACTokenSigner creates an HS256 TokenSigner.
func NewHMACTokenSigner(secret, issuer, audience string) (*TokenSigner, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("passport HMAC key must be at least 16 bytes")
	}
	return &TokenSigner{alg: AlgHS256, hmacKey: []byte(secret), issuer: issuer, defaultAud: audience}, nil
}

// NewRSATokenSigner creates an RS256 TokenSigner from PEM-encoded keys.
// privateKeyPEM may be empty if this instance only verifies; publicKeyPEM
// may be empty when privateKeyPEM is given, since the public key is then
// taken from the private key.
func NewRSATokenSigner(privateKeyPEM, publicKeyPEM, issuer, audience string) (*TokenSigner, error) {
	s := &TokenSigner{alg: AlgRS256, issuer: issuer, defaultAud: audience}

	if privateKeyPEM != "" {
		priv, err := parseRSAPrivateKey(privateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parsing passport RSA private key: %w", err)
		}
		s.rsaPriv = priv
		s.rsaPub = &priv.PublicKey
	}
	if publicKeyPEM != "" {
		pub, err := parseRSAPublicKey(publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parsing passport RSA public key: %w", err)
		}
		s.rsaPub = pub
	}
	if s.rsaPub == nil {
		return nil, fmt.Errorf("RS256 signer requires at least a public key")
	}
	return s, nil
}

func parseRSAPrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("PEM does not contain an RSA private key")
	}
	return rsaKey, nil
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("PEM does not contain an RSA public key")
	}
	return rsaKey, nil
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func unb64(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

func (s *TokenSigner) sign(payload []byte) ([]byte, error) {
	switch s.alg {
	case AlgHS256:
		mac := hmac.New(sha256.New, s.hmacKey)
		mac.Write(payload)
		return mac.Sum(nil), nil
	case AlgRS256:
		if s.rsaPriv == nil {
			return nil, fmt.Errorf("signer has no private key configured")
		}
		digest := sha256.Sum256(payload)
		return rsa.SignPKCS1v15(rand.Reader, s.rsaPriv, crypto.SHA256, digest[:])
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", s.alg)
	}
}

func (s *TokenSigner) verify(payload, signature []byte) bool {
	switch s.alg {
	case AlgHS256:
		mac := hmac.New(sha256.New, s.hmacKey)
		mac.Write(payload)
		return hmac.Equal(mac.Sum(nil), signature)
	case AlgRS256:
		digest := sha256.Sum256(payload)
		return rsa.VerifyPKCS1v15(s.rsaPub, crypto.SHA256, digest[:], signature) == nil
	default:
		return false
	}
}

// Issue signs a passport and returns the compact token string.
func (s *TokenSigner) Issue(p Passport, audience string) (string, error) {
	aud := audience
	if aud == "" {
		aud = s.defaultAud
	}
	c := claims{
		Iss:           s.issuer,
		Aud:           aud,
		Sub:           p.SubjectID,
		Iat:           p.IssuedAt.Unix(),
		Exp:           p.ExpiresAt.Unix(),
		Jti:           p.PassportID,
		Clr:           p.ClearanceLevel.String(),
		Trs:           p.TrustScore,
		SubjectType:   string(p.SubjectType),
		InstitutionID: p.InstitutionID,
		Provider:      string(p.IdentityProvider),
		MFA:           p.MFAVerified,
		DeviceID:      p.DeviceID,
	}

	body, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshalling claims: %w", err)
	}
	payloadSeg := b64(body)

	sig, err := s.sign([]byte(payloadSeg))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return payloadSeg + "." + b64(sig), nil
}

// Verify validates the signature, issuer, audience, and expiry of a compact
// token. It never falls back to an unsigned or differently-algorithmed
// token: the algorithm is fixed on the TokenSigner, and there is no header
// segment for an attacker to redirect.
func (s *TokenSigner) Verify(token, expectedAudience string) (claims, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return claims{}, faults.NewIdentityFault(faults.IdentityTokenInvalid, "malformed token")
	}
	payloadSeg, sigSeg := parts[0], parts[1]

	sig, err := unb64(sigSeg)
	if err != nil {
		return claims{}, faults.NewIdentityFault(faults.IdentityTokenInvalid, "invalid signature encoding")
	}
	if !s.verify([]byte(payloadSeg), sig) {
		return claims{}, faults.NewIdentityFault(faults.IdentityTokenInvalid, "signature mismatch")
	}

	body, err := unb64(payloadSeg)
	if err != nil {
		return claims{}, faults.NewIdentityFault(faults.IdentityTokenInvalid, "invalid payload encoding")
	}
	var c claims
	if err := json.Unmarshal(body, &c); err != nil {
		return claims{}, faults.NewIdentityFault(faults.IdentityTokenInvalid, "invalid payload JSON")
	}

	if c.Iss != s.issuer {
		return claims{}, faults.NewIdentityFault(faults.IdentityTokenInvalid, "issuer mismatch")
	}
	if expectedAudience != "" && c.Aud != expectedAudience {
		return claims{}, faults.NewIdentityFault(faults.IdentityTokenInvalid, "audience mismatch")
	}
	if time.Now().Unix() > c.Exp {
		return claims{}, faults.NewIdentityFault(faults.IdentityTokenExpired, "token expired")
	}

	return c, nil
}
