package cryptography

import (
	"strings"
	"testing"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error = %v", err)
	}

	messages := []string{"", "hello", "4f2a9c0d1e", strings.Repeat("long message ", 100), "ünïcödé"}
	for _, msg := range messages {
		sig, err := Sign(msg, id.PrivateKey)
		if err != nil {
			t.Fatalf("Sign(%q) error = %v", msg, err)
		}
		if !strings.HasPrefix(sig, "0x") {
			t.Errorf("Sign() = %q, want 0x prefix", sig)
		}
		if !Verify(msg, sig, id.PublicKey) {
			t.Errorf("Verify(%q) = false, want true", msg)
		}
	}
}

func TestVerify_ForeignKey(t *testing.T) {
	signer, _ := NewIdentity()
	other, _ := NewIdentity()

	sig, err := Sign("challenge", signer.PrivateKey)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if Verify("challenge", sig, other.PublicKey) {
		t.Error("Verify() with a different public key should be false")
	}
	if Verify("different message", sig, signer.PublicKey) {
		t.Error("Verify() with a different message should be false")
	}
}

func TestVerify_CaseAndFormatInsensitive(t *testing.T) {
	id, _ := NewIdentity()
	sig, _ := Sign("msg", id.PrivateKey)

	tests := []struct {
		name string
		key  string
		sig  string
	}{
		{"upper public key", strings.ToUpper(id.PublicKey), sig},
		{"04 prefixed key", "04" + id.PublicKey, sig},
		{"0x prefixed key", "0x04" + id.PublicKey, sig},
		{"signature without 0x", id.PublicKey, strings.TrimPrefix(sig, "0x")},
		{"upper signature", id.PublicKey, "0x" + strings.ToUpper(strings.TrimPrefix(sig, "0x"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !Verify("msg", tt.sig, tt.key) {
				t.Error("Verify() = false, want true")
			}
		})
	}
}

func TestVerify_MalformedInputs(t *testing.T) {
	id, _ := NewIdentity()
	sig, _ := Sign("msg", id.PrivateKey)

	tests := []struct {
		name string
		sig  string
		key  string
	}{
		{"empty signature", "", id.PublicKey},
		{"non-hex signature", "0xzz", id.PublicKey},
		{"short signature", sig[:20], id.PublicKey},
		{"empty key", sig, ""},
		{"garbage key", sig, "not-a-key"},
		{"wrong length key", sig, id.PublicKey[:60]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Verify("msg", tt.sig, tt.key) {
				t.Error("Verify() = true, want false")
			}
		})
	}
}

func TestSign_MalformedKey(t *testing.T) {
	tests := []string{"", "0x", "not-hex", "abcd", strings.Repeat("0", 64)}
	for _, key := range tests {
		if _, err := Sign("msg", key); err == nil {
			t.Errorf("Sign() with key %q should fail", key)
		}
	}
}

func TestIdentityFromPrivateKey(t *testing.T) {
	id, _ := NewIdentity()

	rebuilt, err := IdentityFromPrivateKey("0x" + id.PrivateKey)
	if err != nil {
		t.Fatalf("IdentityFromPrivateKey() error = %v", err)
	}
	if rebuilt.PublicKey != id.PublicKey {
		t.Errorf("PublicKey = %s, want %s", rebuilt.PublicKey, id.PublicKey)
	}
	if rebuilt.Address != id.Address {
		t.Errorf("Address = %s, want %s", rebuilt.Address, id.Address)
	}
	if len(id.PublicKey) != 128 {
		t.Errorf("len(PublicKey) = %d, want 128", len(id.PublicKey))
	}

	pub, err := PublicKeyFromPrivate(id.PrivateKey)
	if err != nil || pub != id.PublicKey {
		t.Errorf("PublicKeyFromPrivate() = %s, %v", pub, err)
	}
}

func TestNormalizePublicKey_Compressed(t *testing.T) {
	id, _ := NewIdentity()
	pub, err := ParsePublicKey(id.PublicKey)
	if err != nil {
		t.Fatalf("ParsePublicKey() error = %v", err)
	}

	prefix := "02"
	if pub.Y.Bit(0) == 1 {
		prefix = "03"
	}
	compressed := prefix + id.PublicKey[:64]

	got, err := NormalizePublicKey(compressed)
	if err != nil {
		t.Fatalf("NormalizePublicKey() error = %v", err)
	}
	if got != id.PublicKey {
		t.Errorf("NormalizePublicKey() = %s, want %s", got, id.PublicKey)
	}
}
