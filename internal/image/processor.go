// Package image detects, measures and downscales evidence images.
package image

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Supported image format names.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
)

// DetectFormat reads the first bytes from r to identify the image format.
// Returns "jpeg", "png", or "webp". The returned reader replays the consumed bytes.
func DetectFormat(r io.Reader) (format string, replay io.Reader, err error) {
	buf := make([]byte, 12)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", nil, fmt.Errorf("reading header: %w", err)
	}
	buf = buf[:n]

	replay = io.MultiReader(bytes.NewReader(buf), r)

	if n >= 3 && buf[0] == 0xFF && buf[1] == 0xD8 && buf[2] == 0xFF {
		return FormatJPEG, replay, nil
	}
	if n >= 8 && string(buf[:8]) == "\x89PNG\r\n\x1a\n" {
		return FormatPNG, replay, nil
	}
	if n >= 12 && string(buf[:4]) == "RIFF" && string(buf[8:12]) == "WEBP" {
		return FormatWebP, replay, nil
	}

	return "", replay, fmt.Errorf("unrecognized image format")
}

// Extension returns the canonical file extension for a format.
func Extension(format string) string {
	switch format {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	}
	return ""
}

// Dimensions decodes only the image header to read width and height.
func Dimensions(r io.Reader) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, fmt.Errorf("decoding image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Downscale shrinks the image in data to at most maxWidth pixels wide,
// keeping its aspect ratio. It returns the encoded result and its format.
// resized is false, and data is returned untouched, when the image already
// fits or maxWidth is not positive. WebP input is re-encoded as PNG since
// there is no WebP encoder.
func Downscale(data []byte, maxWidth int) (out []byte, format string, resized bool, err error) {
	format, replay, err := DetectFormat(bytes.NewReader(data))
	if err != nil {
		return nil, "", false, fmt.Errorf("detecting format: %w", err)
	}
	if maxWidth <= 0 {
		return data, format, false, nil
	}
	if w, _, err := Dimensions(bytes.NewReader(data)); err == nil && w <= maxWidth {
		return data, format, false, nil
	}

	img, _, err := image.Decode(replay)
	if err != nil {
		return nil, "", false, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	newW, newH := fitWidth(bounds.Dx(), bounds.Dy(), maxWidth)
	if newW == bounds.Dx() {
		return data, format, false, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	if format == FormatWebP {
		format = FormatPNG
	}
	out, err = encode(dst, format, 85)
	if err != nil {
		return nil, "", false, err
	}
	return out, format, true, nil
}

// fitWidth scales w x h down so the width is at most maxW.
func fitWidth(w, h, maxW int) (int, int) {
	if w <= maxW {
		return w, h
	}
	ratio := float64(maxW) / float64(w)
	newH := int(math.Round(float64(h) * ratio))
	if newH < 1 {
		newH = 1
	}
	return maxW, newH
}

// encode writes an image in the specified format to a byte slice.
func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encoding jpeg: %w", err)
		}
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding png: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	return buf.Bytes(), nil
}
