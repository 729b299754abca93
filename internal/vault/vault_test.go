package vault

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	v := New("test-passphrase")
	plaintext := []byte("hello, vault!")

	sealed, err := v.Seal(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	opened, err := v.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if !bytes.Equal(plaintext, opened) {
		t.Fatalf("got %q, want %q", opened, plaintext)
	}
}

func TestWrongPassphrase(t *testing.T) {
	v1 := New("correct-passphrase")
	v2 := New("wrong-passphrase")

	sealed, err := v1.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	_, err = v2.Open(sealed)
	if err == nil {
		t.Fatal("expected error opening with wrong passphrase")
	}
}

func TestDifferentPassphrasesDifferentKeys(t *testing.T) {
	v1 := New("passphrase-one")
	v2 := New("passphrase-two")

	if v1.key == v2.key {
		t.Fatal("different passphrases produced the same key")
	}
}

func TestEmptyPlaintext(t *testing.T) {
	v := New("test")

	sealed, err := v.Seal([]byte{})
	if err != nil {
		t.Fatalf("seal empty: %v", err)
	}

	opened, err := v.Open(sealed)
	if err != nil {
		t.Fatalf("open empty: %v", err)
	}

	if len(opened) != 0 {
		t.Fatalf("expected empty, got %d bytes", len(opened))
	}
}

func TestStringRoundTrip(t *testing.T) {
	v := New("test")

	ct, nonce, err := v.SealString("api-key-value")
	if err != nil {
		t.Fatalf("seal string: %v", err)
	}

	got, err := v.OpenString(ct, nonce)
	if err != nil {
		t.Fatalf("open string: %v", err)
	}
	if got != "api-key-value" {
		t.Fatalf("got %q, want %q", got, "api-key-value")
	}
}

func TestOpenStringBadEncoding(t *testing.T) {
	v := New("test")
	if _, err := v.OpenString("not base64 !!!", "also bad"); err == nil {
		t.Fatal("expected error for malformed base64")
	}
}
