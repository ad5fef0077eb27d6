// Package codec implements the authenticated frame format used on the radio
// fallback link: base64( IV(16) || HMAC-SHA256(IV||ciphertext)(32) || AES-256-CBC(PKCS#7(plaintext)) ).
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	KeySize = 32
	IVSize  = aes.BlockSize
	MACSize = sha256.Size

	headerSize = IVSize + MACSize
)

var (
	// ErrAuthentication means the frame MAC did not verify under the key.
	ErrAuthentication = errors.New("codec: frame authentication failed")
	// ErrFormat means the frame is truncated, not base64, or badly padded.
	ErrFormat = errors.New("codec: malformed frame")
	// ErrInvalidKey means the key is not exactly 32 bytes.
	ErrInvalidKey = errors.New("codec: key must be 32 bytes")
)

// Codec seals and opens radio frames under a single out-of-band key. It never
// generates or stores keys.
type Codec struct {
	key   []byte
	block cipher.Block
	rand  io.Reader
}

func New(key []byte) (*Codec, error) {
	return newWithRand(key, rand.Reader)
}

func newWithRand(key []byte, r io.Reader) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKey, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	return &Codec{key: k, block: block, rand: r}, nil
}

// Encode seals plaintext with a fresh IV and returns the base64 text frame.
func (c *Codec) Encode(plaintext []byte) ([]byte, error) {
	padded := pad(plaintext)
	raw := make([]byte, headerSize+len(padded))

	iv := raw[:IVSize]
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return nil, fmt.Errorf("codec: generate iv: %w", err)
	}

	ct := raw[headerSize:]
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(ct, padded)

	copy(raw[IVSize:headerSize], c.mac(iv, ct))

	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

// SealedLen is the length of the frame Encode produces for n bytes of plaintext.
func SealedLen(n int) int {
	padded := n + aes.BlockSize - n%aes.BlockSize
	return base64.StdEncoding.EncodedLen(headerSize + padded)
}

// Decode verifies the MAC before touching the ciphertext and returns the
// original plaintext.
func (c *Codec) Decode(frame []byte) ([]byte, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(frame)))
	n, err := base64.StdEncoding.Decode(raw, frame)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrFormat, err)
	}
	raw = raw[:n]
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrFormat, len(raw), headerSize)
	}

	iv := raw[:IVSize]
	tag := raw[IVSize:headerSize]
	ct := raw[headerSize:]

	if subtle.ConstantTimeCompare(tag, c.mac(iv, ct)) != 1 {
		return nil, ErrAuthentication
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrFormat, len(ct))
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, ct)
	return unpad(plain)
}

// EncodeString and DecodeString are conveniences for text-oriented callers.
func (c *Codec) EncodeString(plaintext []byte) (string, error) {
	b, err := c.Encode(plaintext)
	return string(b), err
}

func (c *Codec) DecodeString(frame string) ([]byte, error) {
	return c.Decode([]byte(frame))
}

func (c *Codec) mac(iv, ct []byte) []byte {
	h := hmac.New(sha256.New, c.key)
	h.Write(iv)
	h.Write(ct)
	return h.Sum(nil)
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrFormat)
	}
	var bad byte
	for _, v := range b[len(b)-n:] {
		bad |= v ^ byte(n)
	}
	if bad != 0 {
		return nil, fmt.Errorf("%w: bad padding", ErrFormat)
	}
	return b[:len(b)-n], nil
}
