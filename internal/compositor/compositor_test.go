package compositor

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KPaul404/Virtual-try-on/internal/domain"
)

var (
	red   = color.RGBA{R: 220, G: 20, B: 20, A: 255}
	green = color.RGBA{R: 20, G: 200, B: 40, A: 255}
	blue  = color.RGBA{R: 20, G: 40, B: 220, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

func solidPNG(t *testing.T, w, h int, c color.Color) domain.StillImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return encodePNG(t, img)
}

// splitPNG paints the left half of the image with left and the right half
// with right.
func splitPNG(t *testing.T, w, h int, left, right color.Color) domain.StillImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, left)
			} else {
				img.Set(x, y, right)
			}
		}
	}
	return encodePNG(t, img)
}

func encodePNG(t *testing.T, img image.Image) domain.StillImage {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return domain.NewStillImage("image/png", buf.Bytes())
}

// pngHeader returns a PNG holding only the signature and an 8-bit grayscale
// IHDR chunk. It is enough for DecodeConfig and carries no pixel data.
func pngHeader(w, h int) domain.StillImage {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(w))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(h))
	ihdr[8] = 8

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return domain.NewStillImage("image/png", buf.Bytes())
}

func decode(t *testing.T, img domain.StillImage) Decoded {
	t.Helper()
	d, err := Decode(img)
	require.NoError(t, err)
	return d
}

func assertColorNear(t *testing.T, want color.Color, got color.Color, msgAndArgs ...any) {
	t.Helper()
	const tolerance = 24
	wr, wg, wb, _ := want.RGBA()
	gr, gg, gb, _ := got.RGBA()
	diff := func(a, b uint32) int {
		d := int(a>>8) - int(b>>8)
		if d < 0 {
			return -d
		}
		return d
	}
	if diff(wr, gr) > tolerance || diff(wg, gg) > tolerance || diff(wb, gb) > tolerance {
		assert.Failf(t, "color mismatch", "want %v, got %v %v", want, got, msgAndArgs)
	}
}

func TestBuildCollageGeometry(t *testing.T) {
	tests := map[string]struct {
		modelW, modelH int
		wantW          int
	}{
		"portrait model": {modelW: 300, modelH: 400, wantW: 900},
		"square model":   {modelW: 500, modelH: 500, wantW: 1200},
		"wide model":     {modelW: 800, modelH: 400, wantW: 2400},
		"odd ratio":      {modelW: 333, modelH: 1000, wantW: 398},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			c := New(Options{})
			out, err := c.BuildCollage(solidPNG(t, test.modelW, test.modelH, red), solidPNG(t, 50, 50, blue))
			require.NoError(t, err)

			assert.Equal(t, "image/jpeg", out.MIMEType)
			d := decode(t, out)
			assert.Equal(t, CollageHeight, d.Height)
			assert.Equal(t, test.wantW, d.Width)
		})
	}
}

func TestBuildCollageCentersTallItem(t *testing.T) {
	c := New(Options{})
	// Model panel is 450 wide; a 1:4 item is height-bound to 150x600,
	// centered at x 600..750.
	out, err := c.BuildCollage(solidPNG(t, 450, 600, red), solidPNG(t, 100, 400, blue))
	require.NoError(t, err)

	d := decode(t, out)
	require.Equal(t, 900, d.Width)
	assertColorNear(t, red, d.Image.At(225, 300))
	assertColorNear(t, white, d.Image.At(500, 300))
	assertColorNear(t, blue, d.Image.At(675, 300))
	assertColorNear(t, white, d.Image.At(850, 300))
}

func TestBuildCollageCentersWideItem(t *testing.T) {
	c := New(Options{})
	// A 2:1 item is width-bound to 450x225, centered at y 187..412.
	out, err := c.BuildCollage(solidPNG(t, 450, 600, red), solidPNG(t, 200, 100, blue))
	require.NoError(t, err)

	d := decode(t, out)
	assertColorNear(t, white, d.Image.At(675, 50))
	assertColorNear(t, blue, d.Image.At(675, 300))
	assertColorNear(t, white, d.Image.At(675, 550))
}

func TestBuildRetryCollageLayout(t *testing.T) {
	tests := map[string]struct {
		modelW, modelH int
		wantW          int
	}{
		"portrait model": {modelW: 300, modelH: 400, wantW: 1200},
		"square model":   {modelW: 100, modelH: 100, wantW: 1600},
		"wide model":     {modelW: 400, modelH: 200, wantW: 3200},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			c := New(Options{})
			out, err := c.BuildRetryCollage(
				solidPNG(t, test.modelW, test.modelH, red),
				solidPNG(t, 10, 30, blue),
				solidPNG(t, 64, 64, green),
			)
			require.NoError(t, err)

			d := decode(t, out)
			assert.Equal(t, RetryCollageHeight, d.Height)
			assert.Equal(t, test.wantW, d.Width)

			panelW := test.wantW / 2
			assertColorNear(t, red, d.Image.At(panelW/2, RetryCollageHeight/2))
			// Item and failed attempt are stretched over their full slots.
			assertColorNear(t, blue, d.Image.At(panelW+10, 10))
			assertColorNear(t, blue, d.Image.At(2*panelW-10, RetryCollageHeight/2-10))
			assertColorNear(t, green, d.Image.At(panelW+10, RetryCollageHeight/2+10))
			assertColorNear(t, green, d.Image.At(2*panelW-10, RetryCollageHeight-10))
		})
	}
}

func TestCropLeftHalfDimensions(t *testing.T) {
	tests := map[string]struct {
		w, h  int
		wantW int
	}{
		"even width": {w: 200, h: 100, wantW: 100},
		"odd width":  {w: 201, h: 100, wantW: 100},
		"two pixels": {w: 2, h: 5, wantW: 1},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			out, err := New(Options{}).CropLeftHalf(splitPNG(t, test.w, test.h, red, blue))
			require.NoError(t, err)

			d := decode(t, out)
			assert.Equal(t, test.wantW, d.Width)
			assert.Equal(t, test.h, d.Height)
		})
	}
}

func TestCropLeftHalfCopiesModelPanel(t *testing.T) {
	out, err := New(Options{}).CropLeftHalf(splitPNG(t, 400, 300, red, blue))
	require.NoError(t, err)

	d := decode(t, out)
	for _, x := range []int{10, 100, 190} {
		assertColorNear(t, red, d.Image.At(x, 150), "x=%d", x)
	}
}

func TestCropOfCollageIsModelRendering(t *testing.T) {
	c := New(Options{})
	model := splitPNG(t, 300, 400, red, green)

	collage, err := c.BuildCollage(model, solidPNG(t, 80, 80, blue))
	require.NoError(t, err)
	cropped, err := c.CropLeftHalf(collage)
	require.NoError(t, err)

	full := decode(t, collage)
	d := decode(t, cropped)
	assert.Equal(t, full.Width/2, d.Width)
	assert.Equal(t, CollageHeight, d.Height)

	// The model is rendered at 450x600: red on the left 225px, green after.
	assertColorNear(t, red, d.Image.At(100, 300))
	assertColorNear(t, green, d.Image.At(350, 300))
	assertColorNear(t, green, d.Image.At(d.Width-20, 300))
}

func TestModelPanel(t *testing.T) {
	assert.Equal(t, image.Rect(0, 0, 450, 600), ModelPanel(image.Rect(0, 0, 900, 600)))
	assert.Equal(t, image.Rect(0, 0, 2, 3), ModelPanel(image.Rect(0, 0, 5, 3)))
	assert.Equal(t, image.Rect(10, 10, 20, 30), ModelPanel(image.Rect(10, 10, 30, 30)))
}

func TestDecodeFailures(t *testing.T) {
	c := New(Options{})
	garbage := domain.NewStillImage("image/png", []byte("not an image"))
	good := solidPNG(t, 10, 10, red)

	tests := map[string]func() error{
		"decode empty": func() error {
			_, err := Decode(domain.StillImage{})
			return err
		},
		"collage bad model": func() error {
			_, err := c.BuildCollage(garbage, good)
			return err
		},
		"collage bad item": func() error {
			_, err := c.BuildCollage(good, garbage)
			return err
		},
		"retry bad failed attempt": func() error {
			_, err := c.BuildRetryCollage(good, good, garbage)
			return err
		},
		"crop garbage": func() error {
			_, err := c.CropLeftHalf(garbage)
			return err
		},
		"crop single column": func() error {
			_, err := c.CropLeftHalf(solidPNG(t, 1, 10, red))
			return err
		},
	}

	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			err := fn()
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrCompositing)
		})
	}
}

func TestDecodeRejectsOversizedImages(t *testing.T) {
	tests := map[string]domain.StillImage{
		"wide strip":      encodePNG(t, image.NewGray(image.Rect(0, 0, 200_000, 1))),
		"tall strip":      encodePNG(t, image.NewGray(image.Rect(0, 0, 1, MaxSide+1))),
		"too many pixels": pngHeader(7000, 7000),
	}

	for name, img := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(img)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTooLarge)
			assert.ErrorIs(t, err, domain.ErrCompositing)
		})
	}
}

func TestBuildCollageRejectsOversizedModel(t *testing.T) {
	c := New(Options{})
	strip := encodePNG(t, image.NewGray(image.Rect(0, 0, 200_000, 1)))
	item := solidPNG(t, 10, 10, red)

	_, err := c.BuildCollage(strip, item)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = c.BuildRetryCollage(strip, item, item)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestModelAspectLimit(t *testing.T) {
	c := New(Options{})
	item := solidPNG(t, 10, 10, red)

	for _, size := range [][2]int{{500, 100}, {100, 500}} {
		model := solidPNG(t, size[0], size[1], green)

		_, err := c.BuildCollage(model, item)
		assert.ErrorIs(t, err, ErrModelAspect, "collage %v", size)
		assert.ErrorIs(t, err, domain.ErrCompositing)

		_, err = c.BuildRetryCollage(model, item, item)
		assert.ErrorIs(t, err, ErrModelAspect, "retry collage %v", size)
	}

	out, err := c.BuildCollage(solidPNG(t, 400, 100, green), item)
	require.NoError(t, err)
	d := decode(t, out)
	assert.Equal(t, 2*ModelPanelWidth(CollageHeight, Decoded{Width: 400, Height: 100}), d.Width)

	assert.NoError(t, CheckModelAspect(100, 400))
	assert.ErrorIs(t, CheckModelAspect(0, 10), domain.ErrCompositing)
}

func TestNewQualityDefaults(t *testing.T) {
	assert.Equal(t, DefaultQuality, New(Options{}).quality)
	assert.Equal(t, DefaultQuality, New(Options{Quality: 101}).quality)
	assert.Equal(t, 70, New(Options{Quality: 70}).quality)
}
