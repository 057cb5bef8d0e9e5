package processor

import (
	"errors"
	"fmt"
	"strings"

	"photoproc/config"
	"photoproc/imaging"

	"github.com/c2h5oh/datasize"
	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file is too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrInvalidImage    = errors.New("invalid image")
	ErrImageTooLarge   = errors.New("image dimensions are too large")
)

// Validator checks uploaded images before any work is spent on them.
type Validator struct {
	maxSize   int64
	maxPixels int
	allowed   []string
}

func NewValidator(cfg *config.Config) *Validator {
	allowed := make([]string, 0, len(cfg.AllowedContentTypes))
	for _, ct := range cfg.AllowedContentTypes {
		if ct = strings.TrimSpace(strings.ToLower(ct)); ct != "" {
			allowed = append(allowed, ct)
		}
	}
	return &Validator{maxSize: cfg.MaxFileSize, maxPixels: cfg.MaxImagePixels, allowed: allowed}
}

// Check validates data by size, by its sniffed content type and by the pixel
// count in its header, and returns the sniffed type.
func (v *Validator) Check(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if v.maxSize > 0 && int64(len(data)) > v.maxSize {
		return "", fmt.Errorf("%w: %s exceeds limit of %s", ErrFileTooLarge,
			datasize.ByteSize(len(data)).HumanReadable(), datasize.ByteSize(v.maxSize).HumanReadable())
	}

	detected := mimetype.Detect(data)
	for _, ct := range v.allowed {
		if detected.Is(ct) {
			if err := v.checkDimensions(data); err != nil {
				return "", err
			}
			return detected.String(), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, detected.String())
}

// checkDimensions rejects images whose decoded size would exceed maxPixels.
func (v *Validator) checkDimensions(data []byte) error {
	if v.maxPixels <= 0 {
		return nil
	}
	cfg, _, err := imaging.DecodeConfig(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(v.maxPixels) {
		return fmt.Errorf("%w: %dx%d exceeds limit of %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, v.maxPixels)
	}
	return nil
}

// AllowsDeclared reports whether a client-declared content type is acceptable.
// An empty or generic declaration is left to content sniffing.
func (v *Validator) AllowsDeclared(contentType string) bool {
	ct, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	ct = strings.TrimSpace(ct)
	if ct == "" || ct == "application/octet-stream" {
		return true
	}
	for _, a := range v.allowed {
		if a == ct {
			return true
		}
	}
	return false
}
