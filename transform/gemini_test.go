package transform

import (
	"context"
	"errors"
	"testing"
	"time"

	"photoproc/config"
	"photoproc/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// fakeModels is a function-field stand-in for the genai models service.
type fakeModels struct {
	generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return f.generateFunc(ctx, model, contents, cfg)
}

func geminiConfig() *config.Config {
	return &config.Config{
		GeminiTextModel:  "text-model",
		GeminiImageModel: "image-model",
		GeminiTimeout:    time.Second,
	}
}

func response(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: parts, Role: "model"},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func TestExtractImage(t *testing.T) {
	t.Run("first inline image wins", func(t *testing.T) {
		resp := response(
			genai.NewPartFromText("here you go"),
			genai.NewPartFromBytes([]byte("img-1"), "image/png"),
			genai.NewPartFromBytes([]byte("img-2"), "image/png"),
		)
		out, err := extractImage(resp)
		require.NoError(t, err)
		assert.Equal(t, []byte("img-1"), out)
	})

	t.Run("text only", func(t *testing.T) {
		_, err := extractImage(response(genai.NewPartFromText("I cannot do that")))
		assert.ErrorIs(t, err, ErrNoImage)
	})

	t.Run("non image inline data is skipped", func(t *testing.T) {
		_, err := extractImage(response(genai.NewPartFromBytes([]byte("{}"), "application/json")))
		assert.ErrorIs(t, err, ErrNoImage)
	})

	t.Run("no candidates", func(t *testing.T) {
		_, err := extractImage(&genai.GenerateContentResponse{})
		assert.ErrorIs(t, err, ErrNoImage)
		_, err = extractImage(nil)
		assert.ErrorIs(t, err, ErrNoImage)
	})

	t.Run("safety block", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		}
		_, err := extractImage(resp)
		assert.ErrorIs(t, err, ErrContentBlocked)
	})
}

func TestGemini_Categorize(t *testing.T) {
	t.Run("parses the answer", func(t *testing.T) {
		models := &fakeModels{generateFunc: func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			assert.Equal(t, "text-model", model)
			require.Len(t, contents, 1)
			require.Len(t, contents[0].Parts, 2)
			assert.Equal(t, "image/jpeg", contents[0].Parts[1].InlineData.MIMEType)
			require.NotNil(t, cfg.SystemInstruction)
			return response(genai.NewPartFromText("KITCHEN|COOKWARE")), nil
		}}
		g := newGemini(models, geminiConfig(), logger.Discard())

		c, err := g.Categorize(context.Background(), []byte("img"), "image/jpeg")
		require.NoError(t, err)
		assert.Equal(t, Category{Main: "KITCHEN", Sub: "COOKWARE"}, c)
	})

	t.Run("unknown answer falls back without error", func(t *testing.T) {
		models := &fakeModels{generateFunc: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return response(genai.NewPartFromText("a nice lamp")), nil
		}}
		g := newGemini(models, geminiConfig(), logger.Discard())

		c, err := g.Categorize(context.Background(), []byte("img"), "image/jpeg")
		require.NoError(t, err)
		assert.Equal(t, DefaultCategory, c)
	})

	t.Run("api error falls back with error", func(t *testing.T) {
		models := &fakeModels{generateFunc: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, errors.New("quota exceeded")
		}}
		g := newGemini(models, geminiConfig(), logger.Discard())

		c, err := g.Categorize(context.Background(), []byte("img"), "image/jpeg")
		assert.ErrorContains(t, err, "quota exceeded")
		assert.Equal(t, DefaultCategory, c)
	})
}

func TestGemini_Generate(t *testing.T) {
	t.Run("returns the generated image", func(t *testing.T) {
		models := &fakeModels{generateFunc: func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			assert.Equal(t, "image-model", model)
			assert.Equal(t, []string{"TEXT", "IMAGE"}, cfg.ResponseModalities)
			assert.Equal(t, "put it in a kitchen", contents[0].Parts[0].Text)
			return response(genai.NewPartFromBytes([]byte("scene"), "image/png")), nil
		}}
		g := newGemini(models, geminiConfig(), logger.Discard())

		out, err := g.Generate(context.Background(), []byte("img"), "image/jpeg", "put it in a kitchen")
		require.NoError(t, err)
		assert.Equal(t, []byte("scene"), out)
	})

	t.Run("timeout", func(t *testing.T) {
		models := &fakeModels{generateFunc: func(ctx context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		cfg := geminiConfig()
		cfg.GeminiTimeout = 10 * time.Millisecond
		g := newGemini(models, cfg, logger.Discard())

		_, err := g.Generate(context.Background(), []byte("img"), "image/jpeg", "p")
		var failure *Failure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, "request timeout", failure.Detail)
	})
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), geminiConfig(), logger.Discard())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
