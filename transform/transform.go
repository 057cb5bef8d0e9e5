// Package transform holds clients for the external image services.
package transform

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig  = errors.New("invalid transform configuration")
	ErrNoImage        = errors.New("no image in response")
	ErrContentBlocked = errors.New("content blocked by safety filters")
)

// BackgroundRemover replaces the background of a product photo.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, image []byte, filename string) ([]byte, error)
}

// SceneGenerator places a product photo into a generated interior scene.
type SceneGenerator interface {
	Categorize(ctx context.Context, image []byte, mimeType string) (Category, error)
	Generate(ctx context.Context, image []byte, mimeType, prompt string) ([]byte, error)
}

// Failure is an unsuccessful answer from an upstream service.
type Failure struct {
	Service    string
	StatusCode int
	Detail     string
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", f.Service, f.StatusCode, f.Detail)
	}
	return fmt.Sprintf("%s: %s", f.Service, f.Detail)
}
