// Package preview builds the small inline thumbnails stored with history items.
package preview

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrUnsupported is returned for payloads no registered decoder understands.
var ErrUnsupported = errors.New("unsupported image format")

const jpegQuality = 75

// Thumbnail decodes data and scales it so neither side exceeds maxPx.
// Images already within bounds are returned unscaled.
func Thumbnail(data []byte, maxPx int) (image.Image, string, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupported
		}
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxPx <= 0 || (w <= maxPx && h <= maxPx) {
		return src, format, nil
	}

	if w >= h {
		h = max(1, h*maxPx/w)
		w = maxPx
	} else {
		w = max(1, w*maxPx/h)
		h = maxPx
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst, format, nil
}

// DataURL returns a JPEG thumbnail of data as a data: URL.
func DataURL(data []byte, maxPx int) (string, error) {
	img, _, err := Thumbnail(data, maxPx)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode preview: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
