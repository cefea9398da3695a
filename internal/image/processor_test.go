package image

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", makePNG(t, 2, 2), FormatPNG},
		{"jpeg", makeJPEG(t, 2, 2), FormatJPEG},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), FormatWebP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := DetectFormat(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("DetectFormat: %v", err)
			}
			if got != tt.want {
				t.Errorf("format = %q, want %q", got, tt.want)
			}
		})
	}

	if _, _, err := DetectFormat(bytes.NewReader([]byte("plain text!!"))); err == nil {
		t.Error("expected error for non-image data")
	}
}

func TestDownscale(t *testing.T) {
	src := makePNG(t, 400, 200)

	out, format, resized, err := Downscale(src, 100)
	if err != nil {
		t.Fatalf("Downscale: %v", err)
	}
	if !resized || format != FormatPNG {
		t.Fatalf("resized=%v format=%q", resized, format)
	}
	w, h, err := Dimensions(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if w != 100 || h != 50 {
		t.Errorf("dimensions = %dx%d, want 100x50", w, h)
	}
}

func TestDownscale_AlreadySmall(t *testing.T) {
	src := makeJPEG(t, 80, 60)
	out, format, resized, err := Downscale(src, 100)
	if err != nil {
		t.Fatalf("Downscale: %v", err)
	}
	if resized || format != FormatJPEG || !bytes.Equal(out, src) {
		t.Errorf("expected untouched jpeg, got resized=%v format=%q", resized, format)
	}

	out, _, resized, err = Downscale(src, 0)
	if err != nil || resized || !bytes.Equal(out, src) {
		t.Errorf("maxWidth 0 should pass data through, resized=%v err=%v", resized, err)
	}
}

func TestExtension(t *testing.T) {
	if Extension(FormatJPEG) != ".jpg" || Extension(FormatPNG) != ".png" || Extension("gif") != "" {
		t.Error("unexpected extension mapping")
	}
}
