package rendezvous

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/opd-ai/peerdrop/limits"
)

// ErrInvalidCode indicates a rendezvous code that could not be decoded.
var ErrInvalidCode = errors.New("invalid code format")

// Code is the decoded form of a rendezvous code. The wire form is
// base64url(JSON) with single-letter field names:
//
//	s - negotiation blob (sealed signaling payload, base64)
//	i - ICE server URL
//	c - chunk size as a decimal string ("0" lets the receiver pick)
//	p - exported public key (PKIX DER, base64)
//	h - high-speed performance flag, "0" or "1"
type Code struct {
	Signal    string `json:"s"`
	ICEServer string `json:"i"`
	ChunkSize string `json:"c"`
	PublicKey string `json:"p"`
	HighSpeed string `json:"h"`
}

// NewCode assembles a Code from its native-typed parts.
func NewCode(sealedSignal []byte, iceServer string, chunkSize int, publicKeyDER []byte, highSpeed bool) Code {
	h := "0"
	if highSpeed {
		h = "1"
	}

	return Code{
		Signal:    base64.StdEncoding.EncodeToString(sealedSignal),
		ICEServer: iceServer,
		ChunkSize: strconv.Itoa(chunkSize),
		PublicKey: base64.StdEncoding.EncodeToString(publicKeyDER),
		HighSpeed: h,
	}
}

// Encode serializes a Code into its shareable string form.
func Encode(c Code) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses a shareable code string. Any decoding failure is reported
// as ErrInvalidCode.
func Decode(code string) (Code, error) {
	if err := limits.ValidateCodeLength(code); err != nil {
		return Code{}, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		// Tolerate padded input from peers that emit standard base64url.
		raw, err = base64.URLEncoding.DecodeString(code)
		if err != nil {
			return Code{}, fmt.Errorf("%w: %v", ErrInvalidCode, err)
		}
	}

	var c Code
	if err := json.Unmarshal(raw, &c); err != nil {
		return Code{}, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}

	return c, nil
}

// SealedSignal returns the raw sealed negotiation blob.
func (c Code) SealedSignal() ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(c.Signal)
	if err != nil {
		return nil, fmt.Errorf("%w: signal: %v", ErrInvalidCode, err)
	}
	return blob, nil
}

// PublicKeyDER returns the raw exported public key bytes.
func (c Code) PublicKeyDER() ([]byte, error) {
	der, err := base64.StdEncoding.DecodeString(c.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrInvalidCode, err)
	}
	return der, nil
}

// ChunkSizeBytes parses the chunk-size field. Zero means unset.
func (c Code) ChunkSizeBytes() (int, error) {
	if c.ChunkSize == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(c.ChunkSize)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: chunk size %q", ErrInvalidCode, c.ChunkSize)
	}
	return n, nil
}

// HighSpeedEnabled reports whether the performance flag is set.
func (c Code) HighSpeedEnabled() bool {
	return c.HighSpeed == "1"
}
