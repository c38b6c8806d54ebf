// Package crypto implements the payment gateway's payload protection scheme:
// a PBKDF2-derived key encrypts the request body with AES-256-CBC, and an
// HMAC-SHA256 signature covers the encrypted payload plus a request
// timestamp. The gateway validates integrity on its side; this package only
// has to produce the formats the provider expects.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters fixed by the gateway protocol.
const (
	kdfSalt       = "netopia_salt"
	kdfIterations = 100000
	keyLength     = 32
)

// PayloadCipher encrypts gateway request payloads and signs requests with a
// key derived from the shared gateway secret.
type PayloadCipher struct {
	secret []byte
	key    []byte // 32-byte AES-256 key derived once at construction
}

// NewPayloadCipher derives the encryption key from the shared secret.
func NewPayloadCipher(secret string) (*PayloadCipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("crypto: gateway secret is required")
	}

	key := pbkdf2.Key([]byte(secret), []byte(kdfSalt), kdfIterations, keyLength, sha256.New)

	return &PayloadCipher{
		secret: []byte(secret),
		key:    key,
	}, nil
}

// Encrypt encrypts plaintext with AES-256-CBC under a random IV and returns
// base64(iv + ciphertext). The plaintext is PKCS#7 padded to the block size.
func (c *PayloadCipher) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)

	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("crypto: failed to generate IV: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. The gateway normally decrypts on its side; this
// is used by tests and by operators replaying recorded payloads.
func (c *PayloadCipher) Decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid base64 payload: %w", err)
	}
	if len(raw) < aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("crypto: ciphertext length invalid")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	iv := raw[:aes.BlockSize]
	ciphertext := raw[aes.BlockSize:]

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

// Sign computes the hex-encoded HMAC-SHA256 signature over the encrypted
// payload concatenated with the request timestamp (unix seconds, decimal).
func (c *PayloadCipher) Sign(encryptedPayload string, timestamp int64) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%s%d", encryptedPayload, timestamp)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature in constant time.
func (c *PayloadCipher) VerifySignature(encryptedPayload string, timestamp int64, signature string) bool {
	expected := c.Sign(encryptedPayload, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("crypto: invalid padded length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("crypto: invalid padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("crypto: invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}
