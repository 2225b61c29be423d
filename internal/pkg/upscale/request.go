package upscale

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Request is the JSON body of an upscale call.
type Request struct {
	ImageData string `json:"imageData" validate:"required"`
	Filename  string `json:"filename" validate:"required,max=255"`
}

// Validate reports the first invalid field in a readable form.
func (r *Request) Validate() error {
	r.Filename = strings.TrimSpace(r.Filename)
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return fmt.Errorf("%s is required", jsonName(fe.Field()))
			}
			return fmt.Errorf("%s is invalid", jsonName(fe.Field()))
		}
		return err
	}
	return nil
}

func jsonName(field string) string {
	switch field {
	case "ImageData":
		return "imageData"
	case "Filename":
		return "filename"
	}
	return strings.ToLower(field)
}

// CallbackRequest is the body a provider posts when an async job finishes.
type CallbackRequest struct {
	JobID       string `json:"job_id" validate:"required"`
	Status      string `json:"status" validate:"required"`
	UpscaledURL string `json:"upscaled_url" validate:"omitempty,url"`
	Error       string `json:"error"`
}

func (r *CallbackRequest) Validate() error {
	return validate.Struct(r)
}
