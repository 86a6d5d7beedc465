// Package keys tests cover key wrapping and persistence.
package keys

import (
	"bytes"
	"testing"
)

// testCustodian caches a keypair; RSA generation is the slow part.
func testCustodian(t *testing.T) *Custodian {
	t.Helper()
	c, err := Generate(DefaultKeyBits)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return c
}

// TestWrapUnwrapRoundTrip ensures a wrapped key unwraps to itself.
func TestWrapUnwrapRoundTrip(t *testing.T) {
	c := testCustodian(t)
	key := bytes.Repeat([]byte{0xAB}, 32)

	wrapped, err := c.Wrap(key)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if bytes.Contains(wrapped, key) {
		t.Fatalf("wrapped key leaks plaintext key bytes")
	}
	got, err := c.Unwrap(wrapped)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("round trip mismatch")
	}
}

// TestUnwrapRejectsCorrupt flips a byte and expects failure.
func TestUnwrapRejectsCorrupt(t *testing.T) {
	c := testCustodian(t)
	wrapped, err := c.Wrap([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	wrapped[10] ^= 0xFF
	if _, err := c.Unwrap(wrapped); err == nil {
		t.Fatalf("expected corrupt wrap to fail")
	}
}

// TestWrapForRecipient wraps under another party's public key and
// unwraps with their private half.
func TestWrapForRecipient(t *testing.T) {
	system := testCustodian(t)
	recipient := testCustodian(t)

	pub, err := recipient.PublicKeyString()
	if err != nil {
		t.Fatalf("PublicKeyString: %v", err)
	}
	key := bytes.Repeat([]byte{0x11}, 32)
	wrapped, err := system.WrapFor(key, pub)
	if err != nil {
		t.Fatalf("WrapFor: %v", err)
	}
	// Only the recipient can open it.
	if _, err := system.Unwrap(wrapped); err == nil {
		t.Fatalf("system key must not unwrap a recipient-wrapped key")
	}
	got, err := recipient.Unwrap(wrapped)
	if err != nil {
		t.Fatalf("recipient Unwrap: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("recipient round trip mismatch")
	}
}

// TestPEMRoundTrip persists and reloads the keypair.
func TestPEMRoundTrip(t *testing.T) {
	c := testCustodian(t)
	pemBytes, err := c.PEM()
	if err != nil {
		t.Fatalf("PEM: %v", err)
	}
	reloaded, err := Load(pemBytes)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	wrapped, err := c.Wrap([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if _, err := reloaded.Unwrap(wrapped); err != nil {
		t.Fatalf("reloaded key must unwrap: %v", err)
	}
}

// TestParsePublicKeyFormats accepts bare base64 DER and rejects junk.
func TestParsePublicKeyFormats(t *testing.T) {
	c := testCustodian(t)
	pub, err := c.PublicKeyString()
	if err != nil {
		t.Fatalf("PublicKeyString: %v", err)
	}
	if _, err := ParsePublicKey(pub); err != nil {
		t.Fatalf("ParsePublicKey base64: %v", err)
	}
	if _, err := ParsePublicKey("  " + pub + "\n"); err != nil {
		t.Fatalf("ParsePublicKey with whitespace: %v", err)
	}
	for _, bad := range []string{"", "!!!", "aGVsbG8="} {
		if _, err := ParsePublicKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
