package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is the transferable representation handed to the generation backend.
type Image struct {
	MIMEType string
	Data     []byte
}

var (
	ErrEmpty      = errors.New("image is empty")
	ErrNotAnImage = errors.New("not an image")
	ErrBadDataURL = errors.New("invalid data url")
)

const (
	defaultMIME     = "image/png"
	octetStreamMIME = "application/octet-stream"
)

func (img Image) IsZero() bool {
	return len(img.Data) == 0
}

func (img Image) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// DataURL renders the image as data:<mime>;base64,<payload>.
func (img Image) DataURL() string {
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = defaultMIME
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, img.Base64())
}

// Extension returns a file extension (with dot) for the image MIME type.
func (img Image) Extension() string {
	switch NormalizeMIME(img.MIMEType) {
	case "image/png", "":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	if exts, _ := mime.ExtensionsByType(img.MIMEType); len(exts) > 0 {
		return exts[0]
	}
	return ".png"
}

// Encode validates raw upload bytes and returns them as an Image. The declared
// MIME type is only trusted when it is an image type; otherwise the bytes are
// sniffed.
func Encode(name, declaredMIME string, data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%s: %w", name, ErrEmpty)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%s: %w: %v", name, ErrNotAnImage, err)
	}

	mimeType := NormalizeMIME(declaredMIME)
	if !IsImageMIME(mimeType) {
		mimeType = "image/" + format
	}

	return Image{MIMEType: mimeType, Data: data}, nil
}

// Sniff reports the MIME type of data, falling back to the declared type.
func Sniff(declaredMIME string, data []byte) string {
	mimeType := NormalizeMIME(declaredMIME)
	if mimeType == "" || mimeType == octetStreamMIME {
		mimeType = NormalizeMIME(http.DetectContentType(data))
	}
	return mimeType
}

func IsImageMIME(mimeType string) bool {
	return strings.HasPrefix(NormalizeMIME(mimeType), "image/")
}

// NormalizeMIME strips parameters and lowercases a content type.
func NormalizeMIME(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if strings.Contains(mimeType, ";") {
		mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	return strings.ToLower(mimeType)
}

// FromDataURL parses a base64 data URL. A bare base64 payload is accepted and
// tagged with fallbackMIME.
func FromDataURL(value, fallbackMIME string) (Image, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Image{}, ErrEmpty
	}

	mimeType := fallbackMIME
	payload := value
	if strings.HasPrefix(value, "data:") {
		parts := strings.SplitN(value, ",", 2)
		if len(parts) != 2 {
			return Image{}, ErrBadDataURL
		}
		meta := strings.Split(strings.TrimPrefix(parts[0], "data:"), ";")
		if m := strings.TrimSpace(meta[0]); m != "" {
			mimeType = m
		}
		payload = parts[1]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("decode base64: %w", err)
	}
	if len(data) == 0 {
		return Image{}, ErrEmpty
	}
	return Image{MIMEType: mimeType, Data: data}, nil
}
