// Package pairing renders raw pairing challenges from the session engine
// as QR images a human can scan from the status page.
package pairing

import (
	"encoding/base64"

	"github.com/skip2/go-qrcode"

	wabotErrors "github.com/ibetin/wabot/internal/errors"
)

// DataURIPrefix is prepended to every encoded artifact.
const DataURIPrefix = "data:image/png;base64,"

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 256

// Encoder turns a raw challenge string into a displayable artifact.
type Encoder interface {
	Encode(raw string) (string, error)
}

// QREncoder encodes challenges as PNG QR codes wrapped in a data URI.
type QREncoder struct {
	// Size is the PNG edge length in pixels; DefaultSize when zero.
	Size int
	// Level is the error correction level.
	Level qrcode.RecoveryLevel
}

// NewQREncoder returns an encoder with the default size and Medium error correction.
func NewQREncoder() *QREncoder {
	return &QREncoder{Size: DefaultSize, Level: qrcode.Medium}
}

// Encode renders raw as a PNG QR code and returns it as a data URI.
func (e *QREncoder) Encode(raw string) (string, error) {
	if raw == "" {
		return "", wabotErrors.PairingEmpty()
	}

	size := e.Size
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(raw, e.Level, size)
	if err != nil {
		return "", wabotErrors.PairingEncodeFailed(err)
	}
	return DataURIPrefix + base64.StdEncoding.EncodeToString(png), nil
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(raw string) (string, error)

// Encode calls f(raw).
func (f EncoderFunc) Encode(raw string) (string, error) {
	return f(raw)
}
