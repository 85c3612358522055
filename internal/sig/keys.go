// Package sig implements the RSA keypair lifecycle, digest, and
// draft-cavage-http-signatures-12 build/verify used to authenticate
// federated HTTP requests.
package sig

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

const rsaKeyBits = 2048

// KeyPair holds a local actor's RSA material. PublicPEM is always present;
// Private is nil for remote actors (pubkey-only).
type KeyPair struct {
	Private   *rsa.PrivateKey
	Public    *rsa.PublicKey
	PublicPEM string
}

// Generate produces a fresh RSA-2048 keypair, public exponent 65537.
func Generate() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	pubPEM, err := EncodePublicPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey, PublicPEM: pubPEM}, nil
}

// EncodePublicPEM renders a public key as an OpenSSL-compatible SPKI PEM block.
func EncodePublicPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// EncodePrivatePEM renders a private key as an OpenSSL-compatible PKCS#1 PEM
// block, the form every local actor's private_key_pem column stores.
func EncodePrivatePEM(priv *rsa.PrivateKey) string {
	der := x509.MarshalPKCS1PrivateKey(priv)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block))
}

// DecodePublicPEM parses a PEM-encoded SPKI public key. Returns an error
// (never panics) so callers can treat malformed remote keys as ordinary
// verification failures.
func DecodePublicPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}

// DecodePrivatePEM parses a PEM-encoded PKCS#1 private key, as stored in a
// local actor's private_key_pem column.
func DecodePrivatePEM(pemStr string) (*rsa.PrivateKey, error) {
	return decodePrivatePEM(pemStr)
}

func decodePrivatePEM(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return priv, nil
}

// LoadOrGenerateKeyPair reads the keypair from disk, generating and
// persisting a new one on first run. Used only by the composition root for
// the instance-wide service actor; per-user actors generate keys via Generate
// and store PEMs in the database instead of the filesystem.
func LoadOrGenerateKeyPair(privPath, pubPath string) (*KeyPair, error) {
	privBytes, privErr := os.ReadFile(privPath)
	pubBytes, pubErr := os.ReadFile(pubPath)
	if privErr == nil && pubErr == nil {
		priv, err := decodePrivatePEM(string(privBytes))
		if err != nil {
			return nil, err
		}
		return &KeyPair{Private: priv, Public: &priv.PublicKey, PublicPEM: string(pubBytes)}, nil
	}

	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(privPath, []byte(EncodePrivatePEM(kp.Private)), 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(kp.PublicPEM), 0o644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}
	return kp, nil
}
