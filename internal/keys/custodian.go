// Package keys implements the key custodian: the holder of the system RSA
// keypair that wraps and unwraps the symmetric keys protecting data items.
//
// A single system keypair protecting every item is a single point of
// compromise; per-provider wrapping is the eventual fix. The custodian is
// an injected value rather than package state so the keypair can be
// rotated or substituted in tests.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

const DefaultKeyBits = 2048

// Custodian holds the system keypair for the process lifetime.
type Custodian struct {
	priv *rsa.PrivateKey
}

// Generate creates a custodian with a fresh RSA keypair.
func Generate(bits int) (*Custodian, error) {
	if bits < 2048 {
		return nil, errors.New("rsa key must be at least 2048 bits")
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &Custodian{priv: priv}, nil
}

// Load restores a custodian from a PEM-encoded PKCS#8 private key.
func Load(pemBytes []byte) (*Custodian, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, errors.New("no PRIVATE KEY block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("system key is not RSA")
	}
	return &Custodian{priv: priv}, nil
}

// PEM serializes the private key as PKCS#8 PEM for storage on disk.
func (c *Custodian) PEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(c.priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicKeyString returns the public half as base64 PKIX DER, the format
// principal profiles store public keys in.
func (c *Custodian) PublicKeyString() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&c.priv.PublicKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// Wrap encrypts a symmetric key under the custodian's own public key.
func (c *Custodian) Wrap(symmetricKey []byte) ([]byte, error) {
	if len(symmetricKey) == 0 {
		return nil, errors.New("symmetric key is empty")
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, &c.priv.PublicKey, symmetricKey, nil)
}

// Unwrap recovers a symmetric key wrapped by Wrap. Corrupt or mismatched
// input fails without revealing why (OAEP gives a uniform error).
func (c *Custodian) Unwrap(wrapped []byte) ([]byte, error) {
	if len(wrapped) == 0 {
		return nil, errors.New("wrapped key is empty")
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, c.priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap key: %w", err)
	}
	return key, nil
}

// WrapFor encrypts a symmetric key under an arbitrary recipient public
// key, producing the seeker-specific wrapped key handed out on approval.
func (c *Custodian) WrapFor(symmetricKey []byte, recipientPublicKey string) ([]byte, error) {
	pub, err := ParsePublicKey(recipientPublicKey)
	if err != nil {
		return nil, err
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, symmetricKey, nil)
}

// ParsePublicKey accepts a PKIX public key as PEM or bare base64 DER.
func ParsePublicKey(s string) (*rsa.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("public key is empty")
	}

	var der []byte
	if block, _ := pem.Decode([]byte(s)); block != nil {
		der = block.Bytes
	} else {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, errors.New("public key is neither PEM nor base64 DER")
		}
		der = b
	}

	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return pub, nil
}
