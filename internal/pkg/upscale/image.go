package upscale

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// MaxImageBytes bounds the decoded input size.
const MaxImageBytes = 10 << 20

// MaxOutputSide is the largest width or height the vendor accepts.
const MaxOutputSide = 4096

var allowedExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

var allowedMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
}

// Formats the vendor takes as is. Everything else is re-encoded to PNG.
var passthroughMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Image is a validated input image ready for a provider.
type Image struct {
	Data     []byte
	Filename string
	MIME     string
	Width    int
	Height   int
}

// TargetSize returns the 2x output size, scaled down to fit MaxOutputSide.
func (img *Image) TargetSize() (int, int) {
	w, h := img.Width*2, img.Height*2
	if w > MaxOutputSide || h > MaxOutputSide {
		if w >= h {
			h = h * MaxOutputSide / w
			w = MaxOutputSide
		} else {
			w = w * MaxOutputSide / h
			h = MaxOutputSide
		}
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// DecodeImageData turns a data URL or raw base64 string into bytes.
func DecodeImageData(imageData string) ([]byte, error) {
	raw := strings.TrimSpace(imageData)
	if strings.HasPrefix(raw, "data:") {
		comma := strings.IndexByte(raw, ',')
		if comma < 0 || !strings.Contains(raw[:comma], ";base64") {
			return nil, fmt.Errorf("%w: unsupported data URL", ErrInvalidImage)
		}
		raw = raw[comma+1:]
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: empty image data", ErrInvalidImage)
	}
	if base64.StdEncoding.DecodedLen(len(raw)) > MaxImageBytes+3 {
		return nil, fmt.Errorf("%w: image larger than %d bytes", ErrInvalidImage, MaxImageBytes)
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(raw); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: image data is not valid base64", ErrInvalidImage)
}

// ValidateImageBySniff checks the filename extension and the first bytes
// against the supported image types and returns the detected mime type.
func ValidateImageBySniff(filename string, head []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExt[ext] {
		return "", errors.New("only JPG, JPEG, PNG, GIF, WEBP and BMP images are supported")
	}

	detected := http.DetectContentType(head)

	if strings.HasPrefix(detected, "text/html") || strings.HasPrefix(detected, "application/xhtml") {
		return "", errors.New("HTML content is not allowed")
	}
	if strings.HasPrefix(detected, "text/xml") || strings.HasPrefix(detected, "application/xml") || detected == "image/svg+xml" {
		return "", errors.New("SVG and XML are not supported")
	}

	if allowedMime[detected] {
		return detected, nil
	}
	return "", errors.New("unsupported file type")
}

// PrepareImage decodes, validates and normalizes an upload.
func PrepareImage(imageData, filename string) (*Image, error) {
	data, err := DecodeImageData(imageData)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("%w: image larger than %d bytes", ErrInvalidImage, MaxImageBytes)
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	mime, err := ValidateImageBySniff(filename, head)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read image: %v", ErrInvalidImage, err)
	}

	img := &Image{
		Data:     data,
		Filename: filepath.Base(filename),
		MIME:     mime,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}
	if passthroughMime[mime] {
		return img, nil
	}
	return normalizeToPNG(img)
}

func normalizeToPNG(img *Image) (*Image, error) {
	decoded, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot decode image: %v", ErrInvalidImage, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, decoded, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	bounds := decoded.Bounds()
	return &Image{
		Data:     buf.Bytes(),
		Filename: strings.TrimSuffix(img.Filename, filepath.Ext(img.Filename)) + ".png",
		MIME:     "image/png",
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
