// Package encryption implements the AES-256-CBC scheme used for encrypted
// webhook payloads. The cipher key is the SHA-256 digest of the configured
// encrypt key; the IV travels as the first block of the base64-decoded blob.
package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
)

// Decrypt reverses an encrypted webhook payload, returning the plaintext
// bytes. Every failure mode wraps ErrDecrypt so callers classify with
// errors.Is.
func Decrypt(encrypted, encryptKey string) ([]byte, error) {
	if encryptKey == "" {
		return nil, fmt.Errorf("%w: encrypt key is not configured", errspkg.ErrDecrypt)
	}

	blob, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 payload: %v", errspkg.ErrDecrypt, err)
	}
	if len(blob) < aes.BlockSize {
		return nil, fmt.Errorf("%w: payload shorter than one block", errspkg.ErrDecrypt)
	}

	iv := blob[:aes.BlockSize]
	ciphertext := blob[aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not block aligned", errspkg.ErrDecrypt)
	}

	key := sha256.Sum256([]byte(encryptKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errspkg.ErrDecrypt, err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext)
	if err != nil {
		return nil, err
	}
	return unpadded, nil
}

// Encrypt produces a payload Decrypt accepts. The platform performs this on
// its side; the SDK uses it to build encrypted fixtures and local loopback
// traffic.
func Encrypt(plaintext []byte, encryptKey string) (string, error) {
	if encryptKey == "" {
		return "", fmt.Errorf("%w: encrypt key is not configured", errspkg.ErrDecrypt)
	}

	key := sha256.Sum256([]byte(encryptKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", errspkg.ErrDecrypt, err)
	}

	padded := pkcs7Pad(plaintext)
	blob := make([]byte, aes.BlockSize+len(padded))
	iv := blob[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("%w: %v", errspkg.ErrDecrypt, err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(blob[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(blob), nil
}

func pkcs7Pad(data []byte) []byte {
	padding := aes.BlockSize - len(data)%aes.BlockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty decrypted payload", errspkg.ErrDecrypt)
	}
	padding := int(data[len(data)-1])
	if padding < 1 || padding > aes.BlockSize || padding > len(data) {
		return nil, fmt.Errorf("%w: invalid padding", errspkg.ErrDecrypt)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: invalid padding", errspkg.ErrDecrypt)
		}
	}
	return data[:len(data)-padding], nil
}
