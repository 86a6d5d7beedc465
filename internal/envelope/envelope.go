// Package envelope implements envelope encryption for data item payloads:
// each payload is sealed with a fresh AES-256-GCM key, and that key is
// wrapped by the key custodian for storage or for a grant recipient.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"consentdesk/internal/cerr"
	"consentdesk/internal/keys"
)

const keyLen = 32

// Manager seals and opens payloads and re-wraps their keys via the
// custodian.
type Manager struct {
	custodian *keys.Custodian
}

func NewManager(c *keys.Custodian) *Manager {
	return &Manager{custodian: c}
}

// Seal encrypts plaintext with a fresh 256-bit key and returns the
// ciphertext (nonce-prefixed) together with the key wrapped under the
// system public key. The raw key never leaves this function.
func (m *Manager) Seal(plaintext []byte) (ciphertext, wrappedKey []byte, err error) {
	key := make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, cerr.Crypto(err, "generate data key")
	}
	ciphertext, err = EncryptWithKey(key, plaintext)
	if err != nil {
		return nil, nil, err
	}
	wrappedKey, err = m.custodian.Wrap(key)
	if err != nil {
		return nil, nil, cerr.Crypto(err, "wrap data key")
	}
	return ciphertext, wrappedKey, nil
}

// Open reverses Seal using the custodian's private key.
func (m *Manager) Open(ciphertext, wrappedKey []byte) ([]byte, error) {
	key, err := m.custodian.Unwrap(wrappedKey)
	if err != nil {
		return nil, cerr.Crypto(err, "unwrap data key")
	}
	return DecryptWithKey(key, ciphertext)
}

// ReEncryptForRecipient unwraps a stored key and wraps it again under the
// recipient's public key. This runs exactly once per grant, at approval.
// A nil wrapped key (unencrypted item) passes through as nil.
func (m *Manager) ReEncryptForRecipient(wrappedKey []byte, recipientPublicKey string) ([]byte, error) {
	if len(wrappedKey) == 0 {
		return nil, nil
	}
	key, err := m.custodian.Unwrap(wrappedKey)
	if err != nil {
		return nil, cerr.Crypto(err, "unwrap data key")
	}
	out, err := m.custodian.WrapFor(key, recipientPublicKey)
	if err != nil {
		return nil, cerr.Crypto(err, "wrap data key for recipient")
	}
	return out, nil
}

// EncryptWithKey seals plaintext with AES-256-GCM. The random nonce is
// prepended to the returned ciphertext.
func EncryptWithKey(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, cerr.Crypto(err, "generate nonce")
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptWithKey opens a nonce-prefixed AES-256-GCM ciphertext.
func DecryptWithKey(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, cerr.Crypto(errors.New("ciphertext shorter than nonce"), "decrypt payload")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, cerr.Crypto(err, "decrypt payload")
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keyLen {
		return nil, cerr.Crypto(fmt.Errorf("key is %d bytes, want %d", len(key), keyLen), "bad data key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cerr.Crypto(err, "init cipher")
	}
	return cipher.NewGCM(block)
}
