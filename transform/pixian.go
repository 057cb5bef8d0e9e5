package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"photoproc/config"

	"golang.org/x/time/rate"
)

const pixianService = "pixian"

// maxErrorBody bounds how much of a failed response is kept as detail.
const maxErrorBody = 1024

// Pixian calls the Pixian.AI background removal API.
type Pixian struct {
	url     string
	user    string
	key     string
	fields  []Field
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewPixian(cfg *config.Config, logger *slog.Logger) (*Pixian, error) {
	if cfg.PixianURL == "" {
		return nil, fmt.Errorf("%w: pixian API URL is empty", ErrInvalidConfig)
	}
	fields, err := ParseOptions(cfg.PixianOptions)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.PixianRPS > 0 {
		limit = rate.Limit(cfg.PixianRPS)
	}

	return &Pixian{
		url:     cfg.PixianURL,
		user:    cfg.PixianUser,
		key:     cfg.PixianKey,
		fields:  fields,
		client:  &http.Client{Timeout: cfg.PixianTimeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("service", pixianService),
	}, nil
}

// RemoveBackground uploads image and returns the processed PNG.
func (p *Pixian) RemoveBackground(ctx context.Context, image []byte, filename string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pixian rate limit wait: %w", err)
	}

	body, contentType, err := p.encodeForm(image, filename)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build pixian request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth(p.user, p.key)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		var urlErr interface{ Timeout() bool }
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return nil, &Failure{Service: pixianService, Detail: "request timeout"}
		}
		return nil, fmt.Errorf("pixian request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Failure{
			Service:    pixianService,
			StatusCode: resp.StatusCode,
			Detail:     strings.TrimSpace(string(detail)),
		}
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pixian response: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("pixian: %w", ErrNoImage)
	}
	p.logger.DebugContext(ctx, "background removed",
		"filename", filename,
		"input_bytes", len(image),
		"output_bytes", len(out),
		"duration", time.Since(start).String())
	return out, nil
}

func (p *Pixian) encodeForm(image []byte, filename string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("failed to write image part: %w", err)
	}
	for _, f := range p.fields {
		if err := mw.WriteField(f.Key, f.Value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f.Key, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
