// Package qrimage renders BR Code payloads as scannable QR images.
package qrimage

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// pixel edge of the generated PNG
const imageSize = 256

// Render encodes payload as a PNG QR image. Error correction stays at the
// low tier, which is enough for short payment payloads; the symbol version
// grows automatically with the payload.
func Render(payload string) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.Low, imageSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr image: %w", err)
	}
	return png, nil
}

// RenderBase64 returns the PNG bytes of Render as base64 text, the form the
// charge record stores and the API ships to clients.
func RenderBase64(payload string) (string, error) {
	png, err := Render(payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
