package stepca

import (
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// tokenLifetime is the validity of one-time and admin tokens.
const tokenLifetime = 5 * time.Minute

var (
	keyAlgorithms     = []jose.KeyAlgorithm{jose.PBES2_HS256_A128KW}
	contentEncryption = []jose.ContentEncryption{jose.A128GCM, jose.A192GCM, jose.A256GCM}
)

// decryptKey opens a provisioner's encryptedKey (compact JWE protected by
// PBES2-HS256+A128KW) and returns the private JWK it carries.
func decryptKey(encrypted, password string) (*jose.JSONWebKey, error) {
	obj, err := jose.ParseEncrypted(encrypted, keyAlgorithms, contentEncryption)
	if err != nil {
		return nil, fmt.Errorf("parse encrypted key: %w", err)
	}
	payload, err := obj.Decrypt([]byte(password))
	if err != nil {
		return nil, fmt.Errorf("decrypt provisioner key: %w", err)
	}

	var jwk jose.JSONWebKey
	if err := json.Unmarshal(payload, &jwk); err != nil {
		return nil, fmt.Errorf("decode provisioner key: %w", err)
	}
	if jwk.IsPublic() {
		return nil, errors.New("provisioner key is not a private key")
	}
	if jwk.KeyID == "" {
		thumb, err := jwk.Thumbprint(crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("key thumbprint: %w", err)
		}
		jwk.KeyID = base64.RawURLEncoding.EncodeToString(thumb)
	}
	return &jwk, nil
}

// csrFingerprint is base64url(sha256(DER)) without padding.
func csrFingerprint(csrPEM string) (string, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return "", errors.New("csr is not a PEM CERTIFICATE REQUEST")
	}
	sum := sha256.Sum256(block.Bytes)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// signClaims are the step-ca specific claims of a sign token.
type signClaims struct {
	SANs []string `json:"sans"`
	SHA  string   `json:"sha"`
}

func newSigner(key *jose.JSONWebKey) (jose.Signer, error) {
	opts := (&jose.SignerOptions{}).WithType("JWT")
	return jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key}, opts)
}

func registered(issuer, subject, audience string, now time.Time) jwt.Claims {
	return jwt.Claims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.Audience{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
}

// oneTimeToken builds the OTT that authorizes exactly one signing of csrPEM.
func oneTimeToken(key *jose.JSONWebKey, provisioner, subject, audience string, sans []string, csrPEM string, now time.Time) (string, error) {
	sha, err := csrFingerprint(csrPEM)
	if err != nil {
		return "", err
	}
	signer, err := newSigner(key)
	if err != nil {
		return "", fmt.Errorf("token signer: %w", err)
	}
	if sans == nil {
		sans = []string{}
	}
	return jwt.Signed(signer).
		Claims(registered(provisioner, subject, audience, now)).
		Claims(signClaims{SANs: sans, SHA: sha}).
		Serialize()
}

// adminToken builds the bearer token for the admin API.
func adminToken(key *jose.JSONWebKey, provisioner, audience string, now time.Time) (string, error) {
	signer, err := newSigner(key)
	if err != nil {
		return "", fmt.Errorf("token signer: %w", err)
	}
	return jwt.Signed(signer).Claims(registered(provisioner, provisioner, audience, now)).Serialize()
}
