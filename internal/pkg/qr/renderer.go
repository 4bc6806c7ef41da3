package qr

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// Renderer turns a QR payload into an image.
type Renderer interface {
	Render(data string) ([]byte, error)
}

// PNGRenderer renders QR payloads as PNG images.
type PNGRenderer struct {
	size int
}

func NewPNGRenderer() *PNGRenderer {
	return &PNGRenderer{size: 256}
}

// Render encodes data into a PNG QR code.
func (r *PNGRenderer) Render(data string) ([]byte, error) {
	png, err := qrcode.Encode(data, qrcode.Medium, r.size)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	return png, nil
}
