// Package compositor lays out source images onto collages and extracts the
// model panel from generated output.
//
// Every layout produced here places the model in the left half of the canvas
// and makes the canvas exactly twice the model panel width. CropLeftHalf is
// the inverse of that layout, and callers rely on it without any metadata.
package compositor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/KPaul404/Virtual-try-on/internal/domain"
)

const (
	// CollageHeight is the canvas height of the first-attempt collage.
	CollageHeight = 600
	// RetryCollageHeight is the canvas height of the three-image retry collage.
	RetryCollageHeight = 800
	// DefaultQuality is the JPEG quality used for encoded output.
	DefaultQuality = 92

	// MaxSide bounds the width and height of any decoded image.
	MaxSide = 8192
	// MaxPixels bounds width*height of any decoded image.
	MaxPixels = 40_000_000
	// MaxModelAspect bounds the model's width:height and height:width ratios,
	// which fix the collage width.
	MaxModelAspect = 4

	outputMIME = "image/jpeg"
)

var (
	ErrTooLarge    = errors.New("image dimensions exceed the limit")
	ErrModelAspect = errors.New("model image aspect ratio is out of range")

	errZeroSize = errors.New("image has zero width or height")
)

// Decoded is a decoded raster together with its pixel dimensions.
type Decoded struct {
	Image  image.Image
	Width  int
	Height int
}

// Decode decodes a StillImage into pixels. The header is checked against
// MaxSide and MaxPixels before any pixel data is read.
func Decode(img domain.StillImage) (Decoded, error) {
	if img.IsZero() {
		return Decoded{}, &domain.CompositingError{Op: "decode", Err: domain.ErrInvalidImage}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return Decoded{}, &domain.CompositingError{Op: "decode", Err: err}
	}
	if err := checkSize(cfg.Width, cfg.Height); err != nil {
		return Decoded{}, &domain.CompositingError{Op: "decode", Err: err}
	}
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return Decoded{}, &domain.CompositingError{Op: "decode", Err: err}
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Decoded{}, &domain.CompositingError{Op: "decode", Err: errZeroSize}
	}
	return Decoded{Image: src, Width: b.Dx(), Height: b.Dy()}, nil
}

func checkSize(w, h int) error {
	if w <= 0 || h <= 0 {
		return errZeroSize
	}
	if w > MaxSide || h > MaxSide || w*h > MaxPixels {
		return fmt.Errorf("%w: %dx%d", ErrTooLarge, w, h)
	}
	return nil
}

// CheckModelAspect rejects model photos whose aspect ratio exceeds
// MaxModelAspect in either direction.
func CheckModelAspect(w, h int) error {
	if w <= 0 || h <= 0 {
		return &domain.CompositingError{Op: "model aspect", Err: errZeroSize}
	}
	if w > MaxModelAspect*h || h > MaxModelAspect*w {
		return &domain.CompositingError{Op: "model aspect", Err: fmt.Errorf("%w: %dx%d", ErrModelAspect, w, h)}
	}
	return nil
}

// ModelPanelWidth returns the width of a model panel drawn at canvasHeight
// with the model's aspect ratio preserved.
func ModelPanelWidth(canvasHeight int, model Decoded) int {
	w := canvasHeight * model.Width / model.Height
	if w < 1 {
		w = 1
	}
	return w
}

// ModelPanel returns the region of a canvas that holds model-only content.
func ModelPanel(canvas image.Rectangle) image.Rectangle {
	return image.Rect(canvas.Min.X, canvas.Min.Y, canvas.Min.X+canvas.Dx()/2, canvas.Max.Y)
}

// Options configures a Compositor.
type Options struct {
	Quality int
}

// Compositor builds collages and crops using a fixed output encoding.
type Compositor struct {
	quality int
}

// New returns a Compositor. A zero Quality selects DefaultQuality.
func New(opts Options) *Compositor {
	q := opts.Quality
	if q <= 0 || q > 100 {
		q = DefaultQuality
	}
	return &Compositor{quality: q}
}

// BuildCollage draws the model on the left panel and the item, aspect
// preserved and centered, on the right panel of a 600px high canvas.
func (c *Compositor) BuildCollage(model, item domain.StillImage) (domain.StillImage, error) {
	m, err := Decode(model)
	if err != nil {
		return domain.StillImage{}, fmt.Errorf("collage model: %w", err)
	}
	if err := CheckModelAspect(m.Width, m.Height); err != nil {
		return domain.StillImage{}, fmt.Errorf("collage model: %w", err)
	}
	it, err := Decode(item)
	if err != nil {
		return domain.StillImage{}, fmt.Errorf("collage item: %w", err)
	}

	panelW := ModelPanelWidth(CollageHeight, m)
	canvas := newCanvas(2*panelW, CollageHeight)
	scale(canvas, ModelPanel(canvas.Bounds()), m.Image)

	itemPanel := image.Rect(panelW, 0, canvas.Bounds().Dx(), CollageHeight)
	scale(canvas, fitRect(itemPanel, it.Width, it.Height), it.Image)

	return c.encode(canvas)
}

// BuildRetryCollage draws the model on the left panel of an 800px high
// canvas and stacks the item above the failed attempt on the right, each
// stretched to fill its half-height slot.
func (c *Compositor) BuildRetryCollage(model, item, failed domain.StillImage) (domain.StillImage, error) {
	m, err := Decode(model)
	if err != nil {
		return domain.StillImage{}, fmt.Errorf("retry collage model: %w", err)
	}
	if err := CheckModelAspect(m.Width, m.Height); err != nil {
		return domain.StillImage{}, fmt.Errorf("retry collage model: %w", err)
	}
	it, err := Decode(item)
	if err != nil {
		return domain.StillImage{}, fmt.Errorf("retry collage item: %w", err)
	}
	f, err := Decode(failed)
	if err != nil {
		return domain.StillImage{}, fmt.Errorf("retry collage failed attempt: %w", err)
	}

	panelW := ModelPanelWidth(RetryCollageHeight, m)
	canvas := newCanvas(2*panelW, RetryCollageHeight)
	scale(canvas, ModelPanel(canvas.Bounds()), m.Image)

	half := RetryCollageHeight / 2
	right := canvas.Bounds().Dx()
	scale(canvas, image.Rect(panelW, 0, right, half), it.Image)
	scale(canvas, image.Rect(panelW, half, right, RetryCollageHeight), f.Image)

	return c.encode(canvas)
}

// CropLeftHalf copies the model panel of img without scaling.
func (c *Compositor) CropLeftHalf(img domain.StillImage) (domain.StillImage, error) {
	d, err := Decode(img)
	if err != nil {
		return domain.StillImage{}, fmt.Errorf("crop: %w", err)
	}
	region := ModelPanel(d.Image.Bounds())
	if region.Dx() < 1 {
		return domain.StillImage{}, &domain.CompositingError{Op: "crop", Err: errZeroSize}
	}
	dst := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	stddraw.Draw(dst, dst.Bounds(), d.Image, region.Min, stddraw.Src)
	return c.encode(dst)
}

func (c *Compositor) encode(img image.Image) (domain.StillImage, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return domain.StillImage{}, &domain.CompositingError{Op: "encode", Err: err}
	}
	return domain.StillImage{MIMEType: outputMIME, Data: buf.Bytes()}, nil
}

func newCanvas(w, h int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	stddraw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, stddraw.Src)
	return canvas
}

func scale(dst *image.RGBA, r image.Rectangle, src image.Image) {
	if r.Empty() {
		return
	}
	xdraw.CatmullRom.Scale(dst, r, src, src.Bounds(), xdraw.Over, nil)
}

// fitRect scales a w×h source to the panel width, falling back to the panel
// height when that would overflow, and centers the result in panel.
func fitRect(panel image.Rectangle, w, h int) image.Rectangle {
	pw, ph := float64(panel.Dx()), float64(panel.Dy())
	aspect := float64(w) / float64(h)
	drawW := pw
	drawH := drawW / aspect
	if drawH > ph {
		drawH = ph
		drawW = drawH * aspect
	}
	x := panel.Min.X + int((pw-drawW)/2)
	y := panel.Min.Y + int((ph-drawH)/2)
	return image.Rect(x, y, x+int(drawW), y+int(drawH))
}
