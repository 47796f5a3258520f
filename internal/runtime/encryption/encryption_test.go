package encryption

import (
	"encoding/base64"
	"errors"
	"testing"

	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte(`{"schema":"2.0","header":{"event_type":"im.message.receive_v1"}}`)

	encrypted, err := Encrypt(plaintext, "secret-key")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	decrypted, err := Decrypt(encrypted, "secret-key")
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Fatalf("round trip mismatch: %q", decrypted)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	plaintext := []byte(`{"a":1}`)
	encrypted, err := Encrypt(plaintext, "right-key")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	decrypted, err := Decrypt(encrypted, "wrong-key")
	if err == nil && string(decrypted) == string(plaintext) {
		t.Fatal("wrong key must never recover the plaintext")
	}
	if err != nil && !errors.Is(err, errspkg.ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt classification, got %v", err)
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name      string
		encrypted string
		key       string
	}{
		{"not base64", "%%%not-base64%%%", "k"},
		{"too short", base64.StdEncoding.EncodeToString([]byte("short")), "k"},
		{"empty ciphertext", base64.StdEncoding.EncodeToString(make([]byte, 16)), "k"},
		{"unaligned ciphertext", base64.StdEncoding.EncodeToString(make([]byte, 17)), "k"},
		{"missing key", "aGVsbG8=", ""},
	}

	for _, tc := range cases {
		if _, err := Decrypt(tc.encrypted, tc.key); !errors.Is(err, errspkg.ErrDecrypt) {
			t.Fatalf("%s: expected ErrDecrypt, got %v", tc.name, err)
		}
	}
}

func TestPKCS7Padding(t *testing.T) {
	for _, size := range []int{0, 1, 15, 16, 17, 31, 32} {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i)
		}

		padded := pkcs7Pad(data)
		if len(padded)%16 != 0 {
			t.Fatalf("size %d: padded length %d not block aligned", size, len(padded))
		}

		unpadded, err := pkcs7Unpad(padded)
		if err != nil {
			t.Fatalf("size %d: unpad failed: %v", size, err)
		}
		if string(unpadded) != string(data) {
			t.Fatalf("size %d: unpad mismatch", size)
		}
	}
}

func TestPKCS7UnpadRejectsBadPadding(t *testing.T) {
	bad := [][]byte{
		{},
		{0},
		{17},
		{1, 2, 3, 3, 2},
	}
	for i, data := range bad {
		if _, err := pkcs7Unpad(data); !errors.Is(err, errspkg.ErrDecrypt) {
			t.Fatalf("case %d: expected ErrDecrypt, got %v", i, err)
		}
	}
}
