package upscale

import "context"

// Result is an upscaled image returned by a provider.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Provider upscales one image. Errors wrap ErrRateLimited, ErrInvalidImage
// or ErrVendor.
type Provider interface {
	Name() string
	Upscale(ctx context.Context, img *Image) (*Result, error)
}
