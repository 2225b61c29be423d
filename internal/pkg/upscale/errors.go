package upscale

import "errors"

var (
	// ErrRateLimited means the vendor asked us to slow down (HTTP 429).
	ErrRateLimited = errors.New("upscale provider rate limit reached")
	// ErrInvalidImage covers input we reject and input the vendor rejected.
	ErrInvalidImage = errors.New("invalid image")
	// ErrVendor is any other vendor failure.
	ErrVendor = errors.New("upscale provider failed")
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("upscale provider not configured")
)
