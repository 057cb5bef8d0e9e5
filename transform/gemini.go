package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"photoproc/config"

	"google.golang.org/genai"
)

const geminiService = "gemini"

// contentGenerator is the subset of the genai models service used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini categorises products and generates interior scenes with the Gemini API.
type Gemini struct {
	models     contentGenerator
	textModel  string
	imageModel string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewGemini(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gemini, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}
	return newGemini(client.Models, cfg, logger), nil
}

func newGemini(models contentGenerator, cfg *config.Config, logger *slog.Logger) *Gemini {
	return &Gemini{
		models:     models,
		textModel:  cfg.GeminiTextModel,
		imageModel: cfg.GeminiImageModel,
		timeout:    cfg.GeminiTimeout,
		logger:     logger.With("service", geminiService),
	}
}

// Categorize asks the text model for the product category. On any failure it
// returns DefaultCategory together with the error so callers can carry on.
func (g *Gemini) Categorize(ctx context.Context, image []byte, mimeType string) (Category, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText("Determine the category and subcategory of this product:"),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}
	resp, err := g.models.GenerateContent(ctx, g.textModel, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(categorizePrompt(), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.1),
	})
	if err != nil {
		return DefaultCategory, fmt.Errorf("gemini categorize: %w", err)
	}

	answer, err := extractText(resp)
	if err != nil {
		return DefaultCategory, fmt.Errorf("gemini categorize: %w", err)
	}
	c, ok := ParseCategory(answer)
	if !ok {
		g.logger.WarnContext(ctx, "unrecognised category answer, using default",
			"answer", answer,
			"default", DefaultCategory.String())
	}
	return c, nil
}

// Generate asks the image model to restage image according to prompt and returns the produced image.
func (g *Gemini) Generate(ctx context.Context, image []byte, mimeType, prompt string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}
	resp, err := g.models.GenerateContent(ctx, g.imageModel, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Failure{Service: geminiService, Detail: "request timeout"}
		}
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	out, err := extractImage(resp)
	if err != nil {
		return nil, err
	}
	g.logger.DebugContext(ctx, "scene generated",
		"input_bytes", len(image),
		"output_bytes", len(out),
		"duration", time.Since(start).String())
	return out, nil
}

func firstCandidate(resp *genai.GenerateContentResponse) (*genai.Candidate, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, &Failure{Service: geminiService, Detail: "no candidates in response"}
	}
	c := resp.Candidates[0]
	if c.FinishReason == genai.FinishReasonSafety {
		return nil, ErrContentBlocked
	}
	if c.Content == nil {
		return nil, &Failure{Service: geminiService, Detail: "empty content in response"}
	}
	return c, nil
}

// extractText joins the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	c, err := firstCandidate(resp)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, p := range c.Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return b.String(), nil
}

// extractImage returns the first inline image of the first candidate, or ErrNoImage.
func extractImage(resp *genai.GenerateContentResponse) ([]byte, error) {
	c, err := firstCandidate(resp)
	if err != nil {
		if errors.Is(err, ErrContentBlocked) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNoImage, err)
	}
	for _, p := range c.Content.Parts {
		if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
			continue
		}
		if p.InlineData.MIMEType != "" && !strings.HasPrefix(p.InlineData.MIMEType, "image/") {
			continue
		}
		return p.InlineData.Data, nil
	}
	return nil, ErrNoImage
}
