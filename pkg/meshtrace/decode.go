package meshtrace

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ghalamif/MeshTrace/internal/adapters/codec"
)

var (
	ErrFrameAuthentication = codec.ErrAuthentication
	ErrFrameFormat         = codec.ErrFormat
	ErrInvalidKey          = codec.ErrInvalidKey
)

// DecodeSummary verifies and decrypts one radio frame captured off the air.
// Surrounding whitespace is ignored.
func DecodeSummary(key, frame []byte) (CrashSummary, error) {
	c, err := codec.New(key)
	if err != nil {
		return CrashSummary{}, err
	}
	plain, err := c.Decode(bytes.TrimSpace(frame))
	if err != nil {
		return CrashSummary{}, err
	}
	var s CrashSummary
	if err := json.Unmarshal(plain, &s); err != nil {
		return CrashSummary{}, fmt.Errorf("%w: summary: %v", ErrFrameFormat, err)
	}
	return s, nil
}
