// Package atlas bakes a font's printable ASCII range into a single-channel
// glyph sheet for the text overlay.
//
// The bake targets fixed-pitch fonts: the overlay renders text as a grid of
// equally advanced cells and a proportional font will space unevenly. Glyphs
// are shelf-packed left to right, top to bottom, with one texel of padding.
package atlas

import (
	"fmt"
	"image"

	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	// Width and Height are the sheet dimensions in texels.
	Width  = 256
	Height = 128

	// FirstChar is the first baked code point. Glyph index = code - FirstChar.
	FirstChar = ' '

	// LastChar is the last baked code point.
	LastChar = '~'

	// NumGlyphs is the size of the glyph table.
	NumGlyphs = LastChar - FirstChar + 1
)

// Glyph is the placement of one baked glyph. UVs are normalized sheet
// coordinates; offsets and sizes are pixels relative to the character cell's
// top-left corner.
type Glyph struct {
	U0, V0, U1, V1 float32

	XOffset float32
	YOffset float32
	Width   float32
	Height  float32
}

// Atlas is a baked glyph sheet plus its metrics.
type Atlas struct {
	// Pixels is Width*Height bytes, one coverage byte per texel.
	Pixels []byte

	// PixelHeight is the bake size.
	PixelHeight float32

	// Ascent is the baseline offset from the cell top in pixels.
	Ascent float32

	// Advance is the uniform cell advance in pixels.
	Advance float32

	// Glyphs is indexed by code - FirstChar.
	Glyphs []Glyph
}

// Bake parses a TTF/OTF font and rasterizes the printable ASCII range at
// pixelHeight. It fails if the font does not parse or the range does not fit
// the sheet at the requested size.
func Bake(ttf []byte, pixelHeight float64) (*Atlas, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("atlas: parse font: %w", err)
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    pixelHeight,
		DPI:     72,
		Hinting: xfont.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("atlas: create face: %w", err)
	}
	defer func() {
		_ = face.Close()
	}()

	metrics := face.Metrics()

	a := &Atlas{
		Pixels:      make([]byte, Width*Height),
		PixelHeight: float32(pixelHeight),
		Ascent:      fixedToFloat(metrics.Ascent),
		Glyphs:      make([]Glyph, NumGlyphs),
	}

	// The cell advance comes from one reference glyph; for a fixed-pitch
	// font every glyph advances identically.
	if _, adv, ok := face.GlyphBounds('M'); ok {
		a.Advance = fixedToFloat(adv)
	} else {
		a.Advance = float32(pixelHeight) / 2
	}

	dst := image.NewAlpha(image.Rect(0, 0, Width, Height))
	drawer := &xfont.Drawer{
		Dst:  dst,
		Src:  image.White,
		Face: face,
	}

	penX, penY, rowH := 1, 1, 0
	for code := rune(FirstChar); code <= LastChar; code++ {
		bounds, _, ok := face.GlyphBounds(code)
		if !ok {
			continue
		}

		w := fixedCeil(bounds.Max.X) - fixedFloor(bounds.Min.X)
		h := fixedCeil(bounds.Max.Y) - fixedFloor(bounds.Min.Y)
		g := &a.Glyphs[code-FirstChar]
		g.XOffset = fixedToFloat(bounds.Min.X)
		g.YOffset = a.Ascent + fixedToFloat(bounds.Min.Y)
		g.Width = float32(w)
		g.Height = float32(h)
		if w == 0 || h == 0 {
			continue
		}

		if penX+w+1 > Width {
			penX = 1
			penY += rowH + 1
			rowH = 0
		}
		if penY+h+1 > Height {
			return nil, fmt.Errorf("atlas: %dx%d sheet overflow at %q, pixel height %g too large",
				Width, Height, code, pixelHeight)
		}

		drawer.Dot = fixed.Point26_6{
			X: fixed.I(penX) - fixed.Int26_6(fixedFloor(bounds.Min.X)<<6),
			Y: fixed.I(penY) - fixed.Int26_6(fixedFloor(bounds.Min.Y)<<6),
		}
		drawer.DrawString(string(code))

		g.U0 = float32(penX) / Width
		g.V0 = float32(penY) / Height
		g.U1 = float32(penX+w) / Width
		g.V1 = float32(penY+h) / Height

		penX += w + 1
		if h > rowH {
			rowH = h
		}
	}

	copyAlpha(a.Pixels, dst)
	return a, nil
}

func copyAlpha(dst []byte, src *image.Alpha) {
	for y := 0; y < Height; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+Width]
		copy(dst[y*Width:(y+1)*Width], row)
	}
}

func fixedToFloat(v fixed.Int26_6) float32 {
	return float32(v) / 64
}

func fixedFloor(v fixed.Int26_6) int {
	return int(v) >> 6
}

func fixedCeil(v fixed.Int26_6) int {
	return int(v+63) >> 6
}
