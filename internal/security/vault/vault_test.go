package vault

import (
	"crypto/rand"
	"reflect"
	"testing"
)

func TestVault_AES(t *testing.T) {
	key := make([]byte, 32)
	rand.Read(key)

	v, err := NewAESVault(string(key))
	if err != nil {
		t.Fatalf("Failed to create vault: %v", err)
	}

	originalText := []byte("secret-api-key-12345")

	encrypted, err := v.Encrypt(originalText)
	if err != nil {
		t.Fatalf("Encryption failed: %v", err)
	}

	decrypted, err := v.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decryption failed: %v", err)
	}

	if !reflect.DeepEqual(originalText, decrypted) {
		t.Errorf("Decrypted text does not match original. Got %s, want %s", decrypted, originalText)
	}
}

func TestVault_EmptyKey(t *testing.T) {
	if _, err := NewAESVault("  "); err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestOpen_DistinguishesPlaintextFromDecryptionFailure(t *testing.T) {
	v, _ := NewAESVault("key-one")
	other, _ := NewAESVault("key-two")

	plain := []byte(`{"api_key":"sk_test","webhook_secret":"whsec"}`)
	out, state, err := Open(v, plain)
	if err != nil || state != StatePlaintext || string(out) != string(plain) {
		t.Fatalf("plaintext: got %q %v %v", out, state, err)
	}

	sealed, err := other.Encrypt(plain)
	if err != nil {
		t.Fatal(err)
	}
	if _, state, err := Open(v, sealed); err != ErrDecryption || state != StateDecrypted {
		t.Fatalf("wrong key: expected ErrDecryption, got %v (%v)", err, state)
	}

	out, state, err = Open(other, sealed)
	if err != nil || state != StateDecrypted || string(out) != string(plain) {
		t.Fatalf("decrypt: got %q %v %v", out, state, err)
	}
}
