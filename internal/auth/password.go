// Package auth provides password hashing and token issuance for
// consentdesk. Both are collaborators of the account pipeline and the HTTP
// layer; neither knows about the consent domain.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLen:     16,
		KeyLen:      32,
	}
}

// Hasher hashes and verifies passwords with Argon2id. The zero value is
// unusable; construct with NewHasher.
type Hasher struct {
	params Argon2Params
}

func NewHasher(p Argon2Params) *Hasher { return &Hasher{params: p} }

// Hash returns a PHC-style Argon2id string.
// Format: argon2id$v=19$m=65536,t=3,p=4$<salt_b64>$<hash_b64>
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	p := h.params
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLen)
	enc := base64.RawStdEncoding
	return fmt.Sprintf(
		"argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		enc.EncodeToString(salt),
		enc.EncodeToString(sum),
	), nil
}

// Verify reports whether password matches the encoded hash. Parameters are
// taken from the encoded string, so old hashes verify after a parameter
// bump.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if password == "" || encoded == "" {
		return false, nil
	}
	p, salt, want, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func parsePHC(s string) (Argon2Params, []byte, []byte, error) {
	// argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
	var bad = func(msg string) (Argon2Params, []byte, []byte, error) {
		return Argon2Params{}, nil, nil, errors.New(msg)
	}
	parts := strings.Split(s, "$")
	if len(parts) != 5 {
		return bad("invalid password hash format")
	}
	if parts[0] != "argon2id" {
		return bad("unsupported password hash algorithm")
	}
	var ver int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &ver); err != nil || ver != argon2.Version {
		return bad("unsupported argon2 version")
	}
	var p Argon2Params
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return bad("invalid argon2 parameters")
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[3])
	if err != nil {
		return bad("invalid argon2 salt")
	}
	sum, err := enc.DecodeString(parts[4])
	if err != nil {
		return bad("invalid argon2 hash")
	}
	if len(sum) < 16 {
		return bad("invalid argon2 hash length")
	}
	return p, salt, sum, nil
}
