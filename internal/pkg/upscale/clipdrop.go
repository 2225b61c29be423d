package upscale

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/env"
)

const (
	ProviderClipdrop       = "clipdrop"
	DefaultClipdropAPIURL  = "https://clipdrop-api.co/image-upscaling/v1/upscale"
	maxVendorErrorBodySize = 4 << 10
)

// ClipdropProvider calls the Clipdrop image upscaling API.
type ClipdropProvider struct {
	client *http.Client
	apiKey string
	apiURL string
}

// NewClipdropProvider creates a provider; a nil client gets a 60s timeout client.
func NewClipdropProvider(client *http.Client, apiKey, apiURL string) *ClipdropProvider {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if apiURL == "" {
		apiURL = DefaultClipdropAPIURL
	}
	return &ClipdropProvider{client: client, apiKey: apiKey, apiURL: apiURL}
}

// NewClipdropProviderFromEnv reads CLIPDROP_API_KEY and CLIPDROP_API_URL.
func NewClipdropProviderFromEnv() *ClipdropProvider {
	return NewClipdropProvider(nil, env.GetEnv("CLIPDROP_API_KEY", ""), env.GetEnv("CLIPDROP_API_URL", DefaultClipdropAPIURL))
}

func (p *ClipdropProvider) Name() string { return ProviderClipdrop }

// Upscale sends img with a 2x target size.
func (p *ClipdropProvider) Upscale(ctx context.Context, img *Image) (*Result, error) {
	if p.apiKey == "" {
		return nil, ErrNotConfigured
	}
	width, height := img.TargetSize()

	body, contentType, err := clipdropForm(img, width, height)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVendor, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxVendorErrorBodySize))
		log.Warnf("[Upscale] Clipdrop returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		return nil, classifyStatus(resp.StatusCode, msg)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrVendor, err)
	}
	outType := resp.Header.Get("Content-Type")
	if outType == "" {
		outType = http.DetectContentType(data)
	}
	return &Result{Data: data, ContentType: outType, Width: width, Height: height}, nil
}

func clipdropForm(img *Image, width, height int) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image_file"; filename=%q`, img.Filename))
	h.Set("Content-Type", img.MIME)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("target_width", strconv.Itoa(width)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("target_height", strconv.Itoa(height)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func classifyStatus(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity, status == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", ErrInvalidImage, detail)
	default:
		return fmt.Errorf("%w: status %d", ErrVendor, status)
	}
}
