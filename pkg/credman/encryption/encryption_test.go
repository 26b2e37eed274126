package encryption

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	sealed, err := Seal([]byte("hello"), key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !bytes.HasPrefix(sealed, []byte(gcmPrefix)) || bytes.Contains(sealed, []byte("hello")) {
		t.Fatalf("unexpected sealed form %q", sealed)
	}
	plaintext, err := Open(sealed, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plaintext) != "hello" {
		t.Fatalf("expected plaintext 'hello', got %q", plaintext)
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	key := bytes.Repeat([]byte{0x12}, 32)
	a, _ := Seal([]byte("same"), key)
	b, _ := Seal([]byte("same"), key)
	if bytes.Equal(a, b) {
		t.Fatal("two seals of the same plaintext are identical")
	}
}

func TestSealInvalidKey(t *testing.T) {
	if _, err := Seal([]byte("hi"), []byte{0x01}); err == nil {
		t.Fatalf("expected error for invalid key length")
	}
}

func TestOpenErrors(t *testing.T) {
	key := bytes.Repeat([]byte{0x22}, 32)
	if _, err := Open([]byte{0x00, 0x01}, key); !errors.Is(err, ErrNotSealed) {
		t.Errorf("unprefixed data: %v", err)
	}
	if _, err := Open([]byte(gcmPrefix+"short"), key); !errors.Is(err, ErrTooShort) {
		t.Errorf("truncated data: %v", err)
	}

	sealed, _ := Seal([]byte("secret"), key)
	if _, err := Open(sealed, bytes.Repeat([]byte{0x23}, 32)); err == nil {
		t.Error("wrong key accepted")
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := Open(sealed, key); err == nil {
		t.Error("tampered data accepted")
	}
}
