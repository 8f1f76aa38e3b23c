// Package pngcodec implements the rosbridge PNG compression scheme: the
// UTF-8 bytes of a JSON document are packed into the R,G,B channels of a
// square PNG image, which travels base64-encoded in the "data" field of a
// png envelope. Decompress is the wire-facing half; Compress exists so the
// round trip can be exercised end to end.
package pngcodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
)

var ErrEmptyPayload = errors.New("pngcodec: empty payload")

// Decompress decodes a base64 PNG payload back into the JSON text packed in
// its pixel buffer. Zero padding introduced by the square image layout is
// trimmed; JSON cannot contain NUL bytes, so the trim is lossless.
func Decompress(data string) ([]byte, error) {
	if data == "" {
		return nil, ErrEmptyPayload
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("pngcodec: invalid base64: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("pngcodec: invalid png: %w", err)
	}

	bounds := img.Bounds()
	out := make([]byte, 0, bounds.Dx()*bounds.Dy()*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out = append(out, c.R, c.G, c.B)
		}
	}

	return bytes.TrimRight(out, "\x00"), nil
}

// Compress packs JSON text into the R,G,B channels of the smallest square
// PNG that fits it and returns the base64 encoding of that image.
func Compress(jsonText []byte) (string, error) {
	if len(jsonText) == 0 {
		return "", ErrEmptyPayload
	}

	pixels := (len(jsonText) + 2) / 3
	side := int(math.Ceil(math.Sqrt(float64(pixels))))

	img := image.NewNRGBA(image.Rect(0, 0, side, side))
	for i := 0; i < side*side; i++ {
		var r, g, b byte
		if off := i * 3; off < len(jsonText) {
			r = jsonText[off]
			if off+1 < len(jsonText) {
				g = jsonText[off+1]
			}
			if off+2 < len(jsonText) {
				b = jsonText[off+2]
			}
		}
		img.SetNRGBA(i%side, i/side, color.NRGBA{R: r, G: g, B: b, A: 0xff})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("pngcodec: encode: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
