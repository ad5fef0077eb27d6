package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	mrand "math/rand"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("key: %v", err)
	}
	return key
}

func TestRoundTripAcrossLengths(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	lengths := []int{0, 1, 15, 16, 17, 31, 32, 33, 100, 255, 1024, 4095, 4096, 9999, 10000}
	r := mrand.New(mrand.NewSource(7))
	for i := 0; i < 20; i++ {
		lengths = append(lengths, r.Intn(10001))
	}

	for _, n := range lengths {
		payload := make([]byte, n)
		r.Read(payload)

		frame, err := c.Encode(payload)
		if err != nil {
			t.Fatalf("encode %d bytes: %v", n, err)
		}
		if len(frame) != SealedLen(n) {
			t.Fatalf("SealedLen(%d) = %d, frame is %d bytes", n, SealedLen(n), len(frame))
		}
		got, err := c.Decode(frame)
		if err != nil {
			t.Fatalf("decode %d bytes: %v", n, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("round trip mismatch at length %d", n)
		}
	}
}

func TestFrameLayoutMatchesWireContract(t *testing.T) {
	key := testKey(t)
	iv := bytes.Repeat([]byte{0xA5}, IVSize)
	c, err := newWithRand(key, bytes.NewReader(iv))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	plaintext := []byte("0123456789abcdef") // block aligned: expect a full pad block
	frame, err := c.Encode(plaintext)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(string(frame))
	if err != nil {
		t.Fatalf("frame is not base64: %v", err)
	}
	if len(raw) != IVSize+MACSize+32 {
		t.Fatalf("expected %d raw bytes, got %d", IVSize+MACSize+32, len(raw))
	}
	if !bytes.Equal(raw[:IVSize], iv) {
		t.Fatalf("iv not at frame start")
	}

	ct := raw[IVSize+MACSize:]
	h := hmac.New(sha256.New, key)
	h.Write(raw[:IVSize])
	h.Write(ct)
	if !hmac.Equal(h.Sum(nil), raw[IVSize:IVSize+MACSize]) {
		t.Fatalf("mac is not HMAC-SHA256(iv||ciphertext)")
	}

	block, _ := aes.NewCipher(key)
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	if !bytes.Equal(plain[:16], plaintext) {
		t.Fatalf("ciphertext does not decrypt to plaintext under AES-256-CBC")
	}
	if !bytes.Equal(plain[16:], bytes.Repeat([]byte{16}, 16)) {
		t.Fatalf("expected a full PKCS#7 block, got %v", plain[16:])
	}
}

func TestFreshIVPerFrame(t *testing.T) {
	c, _ := New(testKey(t))
	a, _ := c.Encode([]byte("same"))
	b, _ := c.Encode([]byte("same"))
	if bytes.Equal(a, b) {
		t.Fatalf("two encodings of the same plaintext must differ")
	}
}

func TestTamperedFramesFailAuthentication(t *testing.T) {
	c, _ := New(testKey(t))
	frame, err := c.Encode([]byte(`{"id":"x","s":"HIGH","m":27.4}`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(string(frame))

	for i := IVSize; i < len(raw); i++ {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), raw...)
			mutated[i] ^= 1 << bit
			enc := []byte(base64.StdEncoding.EncodeToString(mutated))

			got, err := c.Decode(enc)
			if !errors.Is(err, ErrAuthentication) {
				t.Fatalf("byte %d bit %d: expected ErrAuthentication, got %v", i, bit, err)
			}
			if got != nil {
				t.Fatalf("byte %d bit %d: tampered frame returned plaintext", i, bit)
			}
		}
	}
}

func TestWrongKeyFailsAuthentication(t *testing.T) {
	a, _ := New(testKey(t))
	b, _ := New(testKey(t))
	frame, _ := a.Encode([]byte("payload"))
	if _, err := b.Decode(frame); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestMalformedFrames(t *testing.T) {
	key := testKey(t)
	c, _ := New(key)

	short := base64.StdEncoding.EncodeToString(make([]byte, headerSize-1))
	if _, err := c.DecodeString(short); !errors.Is(err, ErrFormat) {
		t.Fatalf("short frame: expected ErrFormat, got %v", err)
	}
	if _, err := c.DecodeString("not*base64!"); !errors.Is(err, ErrFormat) {
		t.Fatalf("bad base64: expected ErrFormat, got %v", err)
	}

	// Correctly authenticated, but the plaintext carries invalid padding.
	iv := make([]byte, IVSize)
	block, _ := aes.NewCipher(key)
	bad := append(bytes.Repeat([]byte{'a'}, 15), 0x00)
	ct := make([]byte, len(bad))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, bad)
	h := hmac.New(sha256.New, key)
	h.Write(iv)
	h.Write(ct)
	raw := append(append(append([]byte{}, iv...), h.Sum(nil)...), ct...)
	if _, err := c.DecodeString(base64.StdEncoding.EncodeToString(raw)); !errors.Is(err, ErrFormat) {
		t.Fatalf("bad padding: expected ErrFormat, got %v", err)
	}

	// Authenticated header with no ciphertext at all.
	h = hmac.New(sha256.New, key)
	h.Write(iv)
	raw = append(append([]byte{}, iv...), h.Sum(nil)...)
	if _, err := c.DecodeString(base64.StdEncoding.EncodeToString(raw)); !errors.Is(err, ErrFormat) {
		t.Fatalf("empty ciphertext: expected ErrFormat, got %v", err)
	}
}

func TestNewRejectsBadKeys(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33} {
		if _, err := New(make([]byte, n)); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key of %d bytes: expected ErrInvalidKey, got %v", n, err)
		}
	}
}
