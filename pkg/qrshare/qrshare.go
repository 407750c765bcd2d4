//go:build !js

// Package qrshare renders the map page URL as a PNG QR code with a map
// pin (or a caller supplied PNG) in the middle. ECC level H leaves enough
// redundancy for the covered centre.
package qrshare

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	qrcode "github.com/skip2/go-qrcode"
)

// Options tune the output image. Zero values fall back to defaults.
type Options struct {
	TargetPx int // Output size in pixels

	Fg  color.RGBA // QR modules
	Bg  color.RGBA // Background, quiet zone included
	Pin color.RGBA // Fallback pin colour

	// Centre box side as a fraction of the image, clamped to 0.20..0.40.
	LogoBoxFrac float64
	// Logo padding inside the centre box in pixels.
	LogoPadding int
}

// DefaultOptions is what the /qrpng route uses.
var DefaultOptions = Options{
	TargetPx:    600,
	Fg:          color.RGBA{0, 0, 0, 255},
	Bg:          color.RGBA{255, 255, 255, 255},
	Pin:         color.RGBA{200, 100, 100, 255},
	LogoBoxFrac: 0.26,
	LogoPadding: 8,
}

func (o Options) withDefaults() Options {
	if o.TargetPx <= 0 {
		o.TargetPx = 600
	}
	if o.LogoPadding < 0 {
		o.LogoPadding = 0
	}
	if o.LogoBoxFrac <= 0 {
		o.LogoBoxFrac = 0.26
	}
	o.LogoBoxFrac = math.Min(math.Max(o.LogoBoxFrac, 0.20), 0.40)
	if (o.Fg == color.RGBA{}) {
		o.Fg = color.RGBA{0, 0, 0, 255}
	}
	if (o.Bg == color.RGBA{}) {
		o.Bg = color.RGBA{255, 255, 255, 255}
	}
	if (o.Pin == color.RGBA{}) {
		o.Pin = color.RGBA{200, 100, 100, 255}
	}
	return o
}

// EncodePNG writes a QR code for data to w. logoPNG is optional; when it
// is empty or cannot be decoded a map pin is drawn instead.
func EncodePNG(w io.Writer, data []byte, logoPNG []byte, opt Options) error {
	opt = opt.withDefaults()

	qr, err := qrcode.New(string(data), qrcode.Highest)
	if err != nil {
		return err
	}
	qr.ForegroundColor = opt.Fg
	qr.BackgroundColor = opt.Bg

	src := qr.Image(opt.TargetPx)
	b := src.Bounds()
	W, H := b.Dx(), b.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, W, H))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	box := int(opt.LogoBoxFrac * float64(min(W, H)))
	if box%2 == 1 {
		box--
	}
	cx, cy := W/2, H/2
	fillRect(dst, cx-box/2, cy-box/2, box, box, opt.Bg)

	if !drawLogo(dst, logoPNG, cx, cy, box-2*opt.LogoPadding) {
		drawPin(dst, cx, cy, box, opt.Pin, opt.Bg)
	}

	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, dst)
}

// drawLogo scales logoPNG into a side×side square centred on (cx, cy).
func drawLogo(dst *image.RGBA, logoPNG []byte, cx, cy, side int) bool {
	if len(logoPNG) == 0 || side <= 0 {
		return false
	}
	img, err := png.Decode(bytes.NewReader(logoPNG))
	if err != nil {
		return false
	}
	sw, sh := fitRect(img.Bounds().Dx(), img.Bounds().Dy(), side, side)
	scaled := scaleNearest(img, sw, sh)
	ox, oy := cx-sw/2, cy-sh/2
	draw.Draw(dst, image.Rect(ox, oy, ox+sw, oy+sh), scaled, image.Point{}, draw.Over)
	return true
}

// drawPin draws a classic map marker: a ring head over a downward point.
func drawPin(dst *image.RGBA, cx, cy, box int, col, hole color.RGBA) {
	half := box / 2
	r := int(0.55 * float64(half))
	headY := cy - half + r + box/12
	tipY := cy + half - box/12

	// Point first so the head overlaps its top edge.
	fillTriangleDown(dst, cx, headY, int(0.8*float64(r)), tipY, col)
	fillCircle(dst, cx, headY, r, col)
	fillCircle(dst, cx, headY, r*2/5, hole)
}

func fitRect(w, h, maxW, maxH int) (int, int) {
	if w == 0 || h == 0 {
		return maxW, maxH
	}
	s := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	return max(int(math.Floor(float64(w)*s)), 1), max(int(math.Floor(float64(h)*s)), 1)
}

func scaleNearest(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	for y := 0; y < h; y++ {
		sy := sb.Min.Y + y*sb.Dy()/h
		for x := 0; x < w; x++ {
			sx := sb.Min.X + x*sb.Dx()/w
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

func fillRect(img *image.RGBA, x, y, w, h int, col color.RGBA) {
	draw.Draw(img, image.Rect(x, y, x+w, y+h), &image.Uniform{col}, image.Point{}, draw.Src)
}

func fillCircle(img *image.RGBA, cx, cy, r int, col color.RGBA) {
	if r <= 0 {
		return
	}
	b := img.Bounds()
	for y := max(cy-r, b.Min.Y); y <= min(cy+r, b.Max.Y-1); y++ {
		dy := y - cy
		dx := int(math.Sqrt(float64(r*r - dy*dy)))
		for x := max(cx-dx, b.Min.X); x <= min(cx+dx, b.Max.X-1); x++ {
			img.SetRGBA(x, y, col)
		}
	}
}

// fillTriangleDown fills the isosceles triangle with its base centred at
// (cx, baseY), half-width halfBase, and its apex at (cx, tipY).
func fillTriangleDown(img *image.RGBA, cx, baseY, halfBase, tipY int, col color.RGBA) {
	height := tipY - baseY
	if height <= 0 || halfBase <= 0 {
		return
	}
	b := img.Bounds()
	for y := max(baseY, b.Min.Y); y <= min(tipY, b.Max.Y-1); y++ {
		hw := halfBase * (tipY - y) / height
		for x := max(cx-hw, b.Min.X); x <= min(cx+hw, b.Max.X-1); x++ {
			img.SetRGBA(x, y, col)
		}
	}
}
