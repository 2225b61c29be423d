package upscale

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/env"
)

const (
	ProviderFal       = "fal"
	DefaultFalAPIURL  = "https://fal.run/fal-ai/recraft/upscale/crisp"
	maxFalOutputBytes = 64 << 20
)

// FalProvider calls a fal.ai upscale model through its synchronous endpoint
// and downloads the image the model returns.
type FalProvider struct {
	client *http.Client
	apiKey string
	apiURL string
}

// NewFalProvider creates a provider; a nil client gets a 120s timeout client.
func NewFalProvider(client *http.Client, apiKey, apiURL string) *FalProvider {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	if apiURL == "" {
		apiURL = DefaultFalAPIURL
	}
	return &FalProvider{client: client, apiKey: apiKey, apiURL: apiURL}
}

// NewFalProviderFromEnv reads FAL_KEY and FAL_API_URL.
func NewFalProviderFromEnv() *FalProvider {
	return NewFalProvider(nil, env.GetEnv("FAL_KEY", ""), env.GetEnv("FAL_API_URL", DefaultFalAPIURL))
}

// NewProviderFromEnv returns the provider named by UPSCALE_PROVIDER,
// clipdrop unless set to fal.
func NewProviderFromEnv() Provider {
	switch name := strings.ToLower(strings.TrimSpace(env.GetEnv("UPSCALE_PROVIDER", ProviderClipdrop))); name {
	case ProviderFal:
		return NewFalProviderFromEnv()
	case ProviderClipdrop, "":
		return NewClipdropProviderFromEnv()
	default:
		log.Warnf("[Upscale] Unknown UPSCALE_PROVIDER %q, using %s", name, ProviderClipdrop)
		return NewClipdropProviderFromEnv()
	}
}

func (p *FalProvider) Name() string { return ProviderFal }

type falRequest struct {
	ImageURL string `json:"image_url"`
}

type falResponse struct {
	Image struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"image"`
}

// Upscale submits img as a data URL and fetches the resulting image.
func (p *FalProvider) Upscale(ctx context.Context, img *Image) (*Result, error) {
	if p.apiKey == "" {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(falRequest{ImageURL: DataURL(img.MIME, img.Data)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVendor, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxVendorErrorBodySize))
		log.Warnf("[Upscale] fal.ai returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		return nil, classifyStatus(resp.StatusCode, msg)
	}

	var out falResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrVendor, err)
	}
	if strings.TrimSpace(out.Image.URL) == "" {
		return nil, fmt.Errorf("%w: response has no image url", ErrVendor)
	}

	data, contentType, err := p.fetch(ctx, out.Image.URL)
	if err != nil {
		return nil, err
	}
	if out.Image.ContentType != "" {
		contentType = out.Image.ContentType
	}

	width, height := img.TargetSize()
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		width, height = cfg.Width, cfg.Height
	}
	return &Result{Data: data, ContentType: contentType, Width: width, Height: height}, nil
}

// fetch reads the model output, which is either a data URL or a CDN link.
func (p *FalProvider) fetch(ctx context.Context, url string) ([]byte, string, error) {
	if strings.HasPrefix(url, "data:") {
		data, err := DecodeImageData(url)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrVendor, err)
		}
		return data, http.DetectContentType(data), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: bad image url: %v", ErrVendor, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: download: %v", ErrVendor, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: download status %d", ErrVendor, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFalOutputBytes))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read download: %v", ErrVendor, err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
