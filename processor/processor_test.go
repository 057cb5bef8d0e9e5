package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"photoproc/config"
	"photoproc/imaging"
	"photoproc/logger"
	"photoproc/task"
	"photoproc/transform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRemover struct {
	removeFunc func(ctx context.Context, image []byte, filename string) ([]byte, error)
}

func (m *mockRemover) RemoveBackground(ctx context.Context, image []byte, filename string) ([]byte, error) {
	return m.removeFunc(ctx, image, filename)
}

type mockGenerator struct {
	categorizeFunc func(ctx context.Context, image []byte) (transform.Category, error)
	generateFunc   func(ctx context.Context, image []byte, prompt string) ([]byte, error)
}

func (m *mockGenerator) Categorize(ctx context.Context, image []byte, _ string) (transform.Category, error) {
	return m.categorizeFunc(ctx, image)
}

func (m *mockGenerator) Generate(ctx context.Context, image []byte, _ string, prompt string) ([]byte, error) {
	return m.generateFunc(ctx, image, prompt)
}

func testConfig() *config.Config {
	return &config.Config{
		MaxFileSize:         10 << 20,
		AllowedContentTypes: []string{"image/jpeg", "image/png", "image/webp"},
	}
}

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestWhiteProcessor(t *testing.T) {
	ctx := context.Background()
	input := solidPNG(t, 8, 8)

	t.Run("success", func(t *testing.T) {
		remover := &mockRemover{removeFunc: func(_ context.Context, img []byte, filename string) ([]byte, error) {
			assert.Equal(t, input, img)
			assert.Equal(t, "chair.png", filename)
			return []byte("no-background"), nil
		}}
		p := NewWhite(testConfig(), remover, NewLimiter(5), logger.Discard())

		out, err := p.Process(ctx, task.Item{Name: "chair.png", Data: input})
		require.NoError(t, err)
		assert.Equal(t, "chair_white.png", out.Name)
		assert.Equal(t, []byte("no-background"), out.Data)
		assert.Equal(t, task.ModeWhite, p.Mode())
	})

	t.Run("upstream failure", func(t *testing.T) {
		upstream := &transform.Failure{Service: "pixian", StatusCode: 500, Detail: "oops"}
		remover := &mockRemover{removeFunc: func(context.Context, []byte, string) ([]byte, error) {
			return nil, upstream
		}}
		p := NewWhite(testConfig(), remover, NewLimiter(5), logger.Discard())

		_, err := p.Process(ctx, task.Item{Name: "chair.png", Data: input})
		var failure *task.ItemFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, "chair.png", failure.Name)
		assert.Equal(t, StageTransform, failure.Stage)
		assert.ErrorIs(t, err, upstream)
	})

	t.Run("invalid input never reaches the service", func(t *testing.T) {
		remover := &mockRemover{removeFunc: func(context.Context, []byte, string) ([]byte, error) {
			t.Fatal("remover must not be called")
			return nil, nil
		}}
		p := NewWhite(testConfig(), remover, NewLimiter(5), logger.Discard())

		_, err := p.Process(ctx, task.Item{Name: "doc.pdf", Data: []byte("%PDF-1.4 fake")})
		var failure *task.ItemFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, StageValidate, failure.Stage)
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})
}

func TestInteriorProcessor(t *testing.T) {
	ctx := context.Background()

	t.Run("oversized dimensions fail validation before decoding", func(t *testing.T) {
		gen := &mockGenerator{
			categorizeFunc: func(context.Context, []byte) (transform.Category, error) {
				t.Fatal("generator must not be called")
				return transform.Category{}, nil
			},
			generateFunc: func(context.Context, []byte, string) ([]byte, error) {
				t.Fatal("generator must not be called")
				return nil, nil
			},
		}
		cfg := testConfig()
		cfg.MaxImagePixels = 50_000_000
		p := NewInterior(cfg, gen, NewLimiter(5), logger.Discard())

		_, err := p.Process(ctx, task.Item{Name: "bomb.png", Data: pngHeader(12000, 12000)})
		var failure *task.ItemFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, StageValidate, failure.Stage)
		assert.ErrorIs(t, err, ErrImageTooLarge)
	})

	t.Run("success", func(t *testing.T) {
		gen := &mockGenerator{
			categorizeFunc: func(_ context.Context, img []byte) (transform.Category, error) {
				padded, format, err := imaging.Decode(img)
				require.NoError(t, err)
				assert.Equal(t, "jpeg", format)
				assert.Equal(t, image.Rect(0, 0, 300, 400), padded.Bounds())
				return transform.Category{Main: "KITCHEN", Sub: "COOKWARE"}, nil
			},
			generateFunc: func(_ context.Context, _ []byte, prompt string) ([]byte, error) {
				assert.Contains(t, prompt, "KITCHEN")
				return solidPNG(t, 1024, 1024), nil
			},
		}
		p := NewInterior(testConfig(), gen, NewLimiter(5), logger.Discard())

		out, err := p.Process(ctx, task.Item{Name: "pan.png", Data: solidPNG(t, 300, 200)})
		require.NoError(t, err)
		assert.Equal(t, "pan_in_kitchen.jpg", out.Name)

		img, format, err := imaging.Decode(out.Data)
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
		assert.Equal(t, image.Rect(0, 0, imaging.TargetWidth, imaging.TargetHeight), img.Bounds())
	})

	t.Run("categorization failure uses the default category", func(t *testing.T) {
		gen := &mockGenerator{
			categorizeFunc: func(context.Context, []byte) (transform.Category, error) {
				return transform.Category{}, errors.New("quota exceeded")
			},
			generateFunc: func(context.Context, []byte, string) ([]byte, error) {
				return solidPNG(t, 30, 40), nil
			},
		}
		p := NewInterior(testConfig(), gen, NewLimiter(5), logger.Discard())

		out, err := p.Process(ctx, task.Item{Name: "vase.png", Data: solidPNG(t, 30, 40)})
		require.NoError(t, err)
		assert.Equal(t, "vase_in_living_room.jpg", out.Name)
	})

	t.Run("no image produced", func(t *testing.T) {
		gen := &mockGenerator{
			categorizeFunc: func(context.Context, []byte) (transform.Category, error) {
				return transform.DefaultCategory, nil
			},
			generateFunc: func(context.Context, []byte, string) ([]byte, error) {
				return nil, transform.ErrNoImage
			},
		}
		p := NewInterior(testConfig(), gen, NewLimiter(5), logger.Discard())

		_, err := p.Process(ctx, task.Item{Name: "vase.png", Data: solidPNG(t, 30, 40)})
		var failure *task.ItemFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, StageTransform, failure.Stage)
		assert.ErrorIs(t, err, transform.ErrNoImage)
	})

	t.Run("undecodable generation result", func(t *testing.T) {
		gen := &mockGenerator{
			categorizeFunc: func(context.Context, []byte) (transform.Category, error) {
				return transform.DefaultCategory, nil
			},
			generateFunc: func(context.Context, []byte, string) ([]byte, error) {
				return []byte("garbage"), nil
			},
		}
		p := NewInterior(testConfig(), gen, NewLimiter(5), logger.Discard())

		_, err := p.Process(ctx, task.Item{Name: "vase.png", Data: solidPNG(t, 30, 40)})
		var failure *task.ItemFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, StagePostprocess, failure.Stage)
	})
}

func TestProcessor_SharedLimiterBoundsCalls(t *testing.T) {
	ctx := context.Background()
	lim := NewLimiter(2)

	var mu sync.Mutex
	current, peak := 0, 0
	remover := &mockRemover{removeFunc: func(context.Context, []byte, string) ([]byte, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		current--
		mu.Unlock()
		return []byte("ok"), nil
	}}
	// Two processors standing for two tasks share one limiter.
	a := NewWhite(testConfig(), remover, lim, logger.Discard())
	b := NewWhite(testConfig(), remover, lim, logger.Discard())
	input := solidPNG(t, 4, 4)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		p := a
		if i%2 == 1 {
			p = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Process(ctx, task.Item{Name: "x.png", Data: input})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 2)
	assert.LessOrEqual(t, lim.HighWater(), 2)
	assert.Zero(t, lim.InFlight())
}

func TestResourceGuard_DisabledByDefault(t *testing.T) {
	g := NewResourceGuard(testConfig(), logger.Discard())
	assert.False(t, g.Enabled())
	assert.NoError(t, g.Check(context.Background()))
}

func TestResourceGuard_FreeMemoryThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.ThrottleFreeMem = 1 << 62
	g := NewResourceGuard(cfg, logger.Discard())

	err := g.Check(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientResources)
}
