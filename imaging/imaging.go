// Package imaging holds the small deterministic image transforms applied around the
// generation service: 3:4 padding and cropping, resizing and JPEG encoding.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Portrait output size of generated scenes.
const (
	TargetWidth  = 1800
	TargetHeight = 2400
)

// Decode reads a JPEG, PNG or WebP image.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// DecodeConfig reads only the image header, so dimensions can be checked before
// any pixel buffer is allocated.
func DecodeConfig(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg, format, nil
}

// PadTo3x4 extends img to a 3:4 aspect ratio, keeping it centred. New pixels repeat
// the nearest edge pixel of the original, so corners take the corner colours.
func PadTo3x4(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	newW, newH := w, h
	if w*4 > h*3 {
		newH = w * 4 / 3
	} else {
		newW = h * 3 / 4
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xOff, yOff := (newW-w)/2, (newH-h)/2
	for y := 0; y < newH; y++ {
		sy := b.Min.Y + clamp(y-yOff, 0, h-1)
		for x := 0; x < newW; x++ {
			sx := b.Min.X + clamp(x-xOff, 0, w-1)
			dst.Set(x, y, img.At(sx, sy))
		}
	}
	return dst
}

// CropTo3x4 cuts the centred 3:4 region out of img.
func CropTo3x4(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	rect := b
	if w*4 > h*3 {
		newW := h * 3 / 4
		left := b.Min.X + (w-newW)/2
		rect = image.Rect(left, b.Min.Y, left+newW, b.Max.Y)
	} else {
		newH := w * 4 / 3
		top := b.Min.Y + (h-newH)/2
		rect = image.Rect(b.Min.X, top, b.Max.X, top+newH)
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// Resize scales img to exactly width x height.
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
