package crypto

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestBox_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	box, err := NewBox(key)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	plaintext := []byte(`{"token":"xoxb-123","channel":"#support"}`)
	ciphertext, err := box.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if ciphertext == string(plaintext) {
		t.Fatal("ciphertext must differ from plaintext")
	}

	decrypted, err := box.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Fatalf("round trip mismatch: %q", decrypted)
	}
}

func TestBox_NonceUniqueness(t *testing.T) {
	key, _ := GenerateKey()
	box, _ := NewBox(key)

	a, _ := box.Encrypt([]byte("same input"))
	b, _ := box.Encrypt([]byte("same input"))
	if a == b {
		t.Fatal("two encryptions of the same plaintext must not be identical")
	}
}

func TestBox_TamperedCiphertext(t *testing.T) {
	key, _ := GenerateKey()
	box, _ := NewBox(key)

	ciphertext, _ := box.Encrypt([]byte("secret"))
	raw, _ := base64.StdEncoding.DecodeString(ciphertext)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := box.Decrypt(tampered); !errors.Is(err, ErrInvalidCiphertext) {
		t.Fatalf("expected ErrInvalidCiphertext, got %v", err)
	}
}

func TestBox_WrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	box1, _ := NewBox(key1)
	box2, _ := NewBox(key2)

	ciphertext, _ := box1.Encrypt([]byte("secret"))
	if _, err := box2.Decrypt(ciphertext); !errors.Is(err, ErrInvalidCiphertext) {
		t.Fatalf("expected ErrInvalidCiphertext with wrong key, got %v", err)
	}
}

func TestNewBox_RejectsBadKeys(t *testing.T) {
	if _, err := NewBox("not base64 at all!!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := NewBox(short); err == nil {
		t.Fatal("expected error for wrong key length")
	}
}

func TestBox_DecryptGarbage(t *testing.T) {
	key, _ := GenerateKey()
	box, _ := NewBox(key)

	if _, err := box.Decrypt("AA=="); !errors.Is(err, ErrInvalidCiphertext) {
		t.Fatalf("expected ErrInvalidCiphertext for truncated input, got %v", err)
	}
}
