// Package processor turns one uploaded image into one output image by way of an
// external transform service.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"photoproc/config"
	"photoproc/imaging"
	"photoproc/task"
	"photoproc/transform"
)

// Stage names reported in item failures.
const (
	StageValidate    = "validate"
	StageResources   = "resources"
	StagePreprocess  = "preprocess"
	StageCategorize  = "categorize"
	StageTransform   = "transform"
	StagePostprocess = "postprocess"
)

const jpegQuality = 95

// stageError tags an error with the stage it came from.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func fail(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

// variant is the mode-specific part of processing, run after the shared checks.
type variant interface {
	run(ctx context.Context, item task.Item, log *slog.Logger) (task.Output, error)
}

// Processor runs the shared checks and then its variant. It implements task.ItemProcessor.
type Processor struct {
	mode      task.Mode
	validator *Validator
	guard     *ResourceGuard
	variant   variant
	logger    *slog.Logger
}

func newProcessor(cfg *config.Config, mode task.Mode, v variant, logger *slog.Logger) *Processor {
	return &Processor{
		mode:      mode,
		validator: NewValidator(cfg),
		guard:     NewResourceGuard(cfg, logger),
		variant:   v,
		logger:    logger.With("mode", string(mode)),
	}
}

// NewWhite returns the background removal processor.
func NewWhite(cfg *config.Config, remover transform.BackgroundRemover, limiter *Limiter, logger *slog.Logger) *Processor {
	return newProcessor(cfg, task.ModeWhite, &white{remover: remover, limiter: limiter}, logger)
}

// NewInterior returns the scene generation processor.
func NewInterior(cfg *config.Config, gen transform.SceneGenerator, limiter *Limiter, logger *slog.Logger) *Processor {
	return newProcessor(cfg, task.ModeInterior, &interior{gen: gen, limiter: limiter}, logger)
}

func (p *Processor) Mode() task.Mode { return p.mode }

// Process implements task.ItemProcessor. Errors are *task.ItemFailure.
func (p *Processor) Process(ctx context.Context, item task.Item) (task.Output, error) {
	log := p.logger.With("name", item.Name)
	start := time.Now()
	log.DebugContext(ctx, "item processing started", "size", len(item.Data))

	out, err := p.process(ctx, item, log)
	if err != nil {
		failure := &task.ItemFailure{Name: item.Name, Stage: "process", Err: err}
		var se *stageError
		if errors.As(err, &se) {
			failure.Stage, failure.Err = se.stage, se.err
		}
		log.WarnContext(ctx, "item processing failed",
			"stage", failure.Stage,
			"error", failure.Err,
			"duration", time.Since(start).String())
		return task.Output{}, failure
	}

	log.InfoContext(ctx, "item processed",
		"output", out.Name,
		"output_size", len(out.Data),
		"duration", time.Since(start).String())
	return out, nil
}

func (p *Processor) process(ctx context.Context, item task.Item, log *slog.Logger) (task.Output, error) {
	sniffed, err := p.validator.Check(item.Data)
	if err != nil {
		return task.Output{}, fail(StageValidate, err)
	}
	item.ContentType = sniffed

	if err := p.guard.Check(ctx); err != nil {
		return task.Output{}, fail(StageResources, err)
	}
	return p.variant.run(ctx, item, log)
}

// white removes the background and keeps the service's PNG as is.
type white struct {
	remover transform.BackgroundRemover
	limiter *Limiter
}

func (w *white) run(ctx context.Context, item task.Item, _ *slog.Logger) (task.Output, error) {
	var data []byte
	err := w.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		data, err = w.remover.RemoveBackground(ctx, item.Data, item.Name)
		return err
	})
	if err != nil {
		return task.Output{}, fail(StageTransform, err)
	}
	return task.Output{Name: whiteName(item.Name), Data: data}, nil
}

// interior pads the photo to 3:4, classifies it, generates a scene and normalises the result.
type interior struct {
	gen     transform.SceneGenerator
	limiter *Limiter
}

func (in *interior) run(ctx context.Context, item task.Item, log *slog.Logger) (task.Output, error) {
	prepared, err := padForGeneration(item.Data)
	if err != nil {
		return task.Output{}, fail(StagePreprocess, err)
	}

	var category transform.Category
	err = in.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		category, err = in.gen.Categorize(ctx, prepared, "image/jpeg")
		return err
	})
	if err != nil {
		// Any classification failure falls back to the default category.
		if ctx.Err() != nil {
			return task.Output{}, fail(StageCategorize, err)
		}
		log.WarnContext(ctx, "categorization failed, using default", "error", err)
		category = transform.DefaultCategory
	}
	log.DebugContext(ctx, "item categorized", "category", category.String())

	var generated []byte
	err = in.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		generated, err = in.gen.Generate(ctx, prepared, "image/jpeg", transform.Prompt(category))
		return err
	})
	if err != nil {
		return task.Output{}, fail(StageTransform, err)
	}

	final, err := normalizeGenerated(generated)
	if err != nil {
		return task.Output{}, fail(StagePostprocess, err)
	}
	return task.Output{Name: interiorName(item.Name, category.Main), Data: final}, nil
}

func padForGeneration(data []byte) ([]byte, error) {
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	return imaging.EncodeJPEG(imaging.PadTo3x4(img), jpegQuality)
}

func normalizeGenerated(data []byte) ([]byte, error) {
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("generated image: %w", err)
	}
	resized := imaging.Resize(imaging.CropTo3x4(img), imaging.TargetWidth, imaging.TargetHeight)
	return imaging.EncodeJPEG(resized, jpegQuality)
}
