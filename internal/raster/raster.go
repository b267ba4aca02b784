// Package raster decodes source images into the sample layouts a DICOM pixel
// module can carry: 8-bit or 16-bit monochrome, or 8-bit RGB.
package raster

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	// imaging registers gif, jpeg, png, bmp and tiff; webp is added here.
	_ "golang.org/x/image/webp"

	converr "github.com/mrsinham/img2dcm/internal/errors"
)

// Photometric interpretations produced by the decoder.
const (
	Monochrome2 = "MONOCHROME2"
	RGB         = "RGB"
)

// Image is a decoded raster in DICOM sample order: rows top to bottom,
// samples interleaved per pixel.
type Image struct {
	Rows            int
	Columns         int
	SamplesPerPixel int // 1 or 3
	BitsAllocated   int // 8 or 16
	Photometric     string

	Pix8  []uint8  // set when BitsAllocated is 8
	Pix16 []uint16 // set when BitsAllocated is 16
}

// Options tune decoding.
type Options struct {
	// Grayscale forces monochrome output for color sources.
	Grayscale bool
	// Label, when set, is burned into the centre of the image.
	Label string
}

// Decode opens path, honours EXIF orientation and converts the result.
// Failures are reported as *errors.CodecError with Op "decode".
func Decode(path string, opts Options) (*Image, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &converr.CodecError{Path: path, Op: "decode", Err: err}
	}
	img, err := FromImage(src, opts)
	if err != nil {
		return nil, &converr.CodecError{Path: path, Op: "decode", Err: err}
	}
	return img, nil
}

// FromImage converts an already decoded image.
func FromImage(src image.Image, opts Options) (*Image, error) {
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("empty %dx%d image: %w", b.Dx(), b.Dy(), converr.ErrUnsupportedImage)
	}
	if b.Dx() > 0xFFFF || b.Dy() > 0xFFFF {
		return nil, fmt.Errorf("%dx%d exceeds 65535 rows or columns: %w", b.Dx(), b.Dy(), converr.ErrUnsupportedImage)
	}

	if opts.Grayscale && !isGray(src) {
		src = imaging.Grayscale(src)
		src = toGray8(src)
	}
	if opts.Label != "" {
		src = drawLabel(src, opts.Label)
	}

	switch {
	case src.ColorModel() == color.Gray16Model:
		return gray16(src), nil
	case isGray(src):
		return gray8(src), nil
	default:
		return rgb8(src), nil
	}
}

func isGray(src image.Image) bool {
	m := src.ColorModel()
	return m == color.GrayModel || m == color.Gray16Model
}

func toGray8(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func gray8(src image.Image) *Image {
	g := toGray8(src)
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := &Image{
		Rows:            h,
		Columns:         w,
		SamplesPerPixel: 1,
		BitsAllocated:   8,
		Photometric:     Monochrome2,
		Pix8:            make([]uint8, w*h),
	}
	for y := 0; y < h; y++ {
		copy(out.Pix8[y*w:(y+1)*w], g.Pix[y*g.Stride:y*g.Stride+w])
	}
	return out
}

func gray16(src image.Image) *Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	g := image.NewGray16(image.Rect(0, 0, w, h))
	draw.Draw(g, g.Bounds(), src, b.Min, draw.Src)

	out := &Image{
		Rows:            h,
		Columns:         w,
		SamplesPerPixel: 1,
		BitsAllocated:   16,
		Photometric:     Monochrome2,
		Pix16:           make([]uint16, w*h),
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix16[y*w+x] = g.Gray16At(x, y).Y
		}
	}
	return out
}

// rgb8 drops alpha after flattening onto black.
func rgb8(src image.Image) *Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Over)

	out := &Image{
		Rows:            h,
		Columns:         w,
		SamplesPerPixel: 3,
		BitsAllocated:   8,
		Photometric:     RGB,
		Pix8:            make([]uint8, w*h*3),
	}
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			out.Pix8[i] = row[x*4]
			out.Pix8[i+1] = row[x*4+1]
			out.Pix8[i+2] = row[x*4+2]
		}
	}
	return out
}
