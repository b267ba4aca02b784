package raster

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// drawLabel burns text into the centre of src, white over a black outline,
// keeping src's sample layout. The text spans about 30% of the image width.
func drawLabel(src image.Image, text string) image.Image {
	b := src.Bounds()
	width, height := b.Dx(), b.Dy()

	var dst draw.Image
	switch src.ColorModel() {
	case color.Gray16Model:
		dst = image.NewGray16(image.Rect(0, 0, width, height))
	case color.GrayModel:
		dst = image.NewGray(image.Rect(0, 0, width, height))
	default:
		dst = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	// Render at the font's native size first.
	face := basicfont.Face7x13
	baseWidth := font.MeasureString(face, text).Ceil()
	baseHeight := 13
	if baseWidth == 0 {
		return dst
	}
	textImg := image.NewAlpha(image.Rect(0, 0, baseWidth, baseHeight))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(11)}, // baseline
	}
	drawer.DrawString(text)

	scale := float64(width) * 0.3 / float64(baseWidth)
	if scale < 1 {
		scale = 1
	}
	scaledWidth := int(float64(baseWidth) * scale)
	scaledHeight := int(float64(baseHeight) * scale)
	mask := image.NewAlpha(image.Rect(0, 0, scaledWidth, scaledHeight))
	draw.NearestNeighbor.Scale(mask, mask.Bounds(), textImg, textImg.Bounds(), draw.Src, nil)

	x := (width - scaledWidth) / 2
	y := (height - scaledHeight) / 2
	at := image.Rect(x, y, x+scaledWidth, y+scaledHeight)

	outline := max(1, scaledHeight/10)
	for dx := -outline; dx <= outline; dx++ {
		for dy := -outline; dy <= outline; dy++ {
			if dx*dx+dy*dy > outline*outline {
				continue
			}
			draw.DrawMask(dst, at.Add(image.Pt(dx, dy)), image.Black, image.Point{}, mask, image.Point{}, draw.Over)
		}
	}
	draw.DrawMask(dst, at, image.White, image.Point{}, mask, image.Point{}, draw.Over)

	return dst
}
