// Package qrcode renders the QR codes printed next to each tree on campus.
package qrcode

import (
	"errors"
	"fmt"
	"strings"

	skip2 "github.com/skip2/go-qrcode"
)

const DefaultSize = 512

var ErrEmptyDestination = errors.New("qr code destination is empty")

type Generator struct {
	size int
}

func NewGenerator(size int) *Generator {
	if size <= 0 {
		size = DefaultSize
	}
	return &Generator{size: size}
}

// Encode returns a PNG of the QR code pointing at destination.
func (g *Generator) Encode(destination string) ([]byte, error) {
	if strings.TrimSpace(destination) == "" {
		return nil, ErrEmptyDestination
	}
	data, err := skip2.Encode(destination, skip2.Highest, g.size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return data, nil
}

// Destination is the public plant page a QR code points at.
func Destination(baseURL, plantID string) string {
	return strings.TrimRight(baseURL, "/") + "/plant/" + plantID
}
