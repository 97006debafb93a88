package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestEncode(t *testing.T) {
	data := pngBytes(t)

	tests := []struct {
		name     string
		declared string
		data     []byte
		wantMIME string
		wantErr  error
	}{
		{name: "declared png", declared: "image/png", data: data, wantMIME: "image/png"},
		{name: "octet stream is sniffed", declared: "application/octet-stream", data: data, wantMIME: "image/png"},
		{name: "parameters stripped", declared: "image/png; charset=binary", data: data, wantMIME: "image/png"},
		{name: "empty", declared: "image/png", data: nil, wantErr: ErrEmpty},
		{name: "garbage", declared: "image/png", data: []byte("not really a picture"), wantErr: ErrNotAnImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode("shot.png", tt.declared, tt.data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Encode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if got.MIMEType != tt.wantMIME {
				t.Errorf("Encode() MIMEType = %q, want %q", got.MIMEType, tt.wantMIME)
			}
		})
	}
}

func TestDataURL(t *testing.T) {
	img := Image{MIMEType: "image/jpeg", Data: []byte{1, 2, 3}}

	parsed, err := FromDataURL(img.DataURL(), "image/png")
	if err != nil {
		t.Fatalf("FromDataURL() error = %v", err)
	}
	if parsed.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q, want image/jpeg", parsed.MIMEType)
	}
	if !bytes.Equal(parsed.Data, img.Data) {
		t.Errorf("Data = %v, want %v", parsed.Data, img.Data)
	}

	bare, err := FromDataURL(img.Base64(), "image/png")
	if err != nil {
		t.Fatalf("FromDataURL(bare) error = %v", err)
	}
	if bare.MIMEType != "image/png" {
		t.Errorf("bare MIMEType = %q, want fallback image/png", bare.MIMEType)
	}

	if _, err := FromDataURL("data:image/png;base64", ""); !errors.Is(err, ErrBadDataURL) {
		t.Errorf("FromDataURL(no comma) error = %v, want ErrBadDataURL", err)
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"image/png":  ".png",
		"image/jpeg": ".jpg",
		"image/webp": ".webp",
		"":           ".png",
	}
	for mimeType, want := range tests {
		if got := (Image{MIMEType: mimeType}).Extension(); got != want {
			t.Errorf("Extension(%q) = %q, want %q", mimeType, got, want)
		}
	}
}
