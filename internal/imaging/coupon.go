// Package imaging composes the back-in-stock notification picture: the
// product photo above a Code-128 barcode of the coupon.
package imaging

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"golang.org/x/image/draw"
)

const (
	Width         = 480
	barcodeHeight = 120
	margin        = 16
)

// Compose lays out the product image scaled to Width and, when code is set,
// a barcode for it. A missing product image leaves only the barcode.
func Compose(productPath, code string) (image.Image, error) {
	var parts []image.Image

	if productPath != "" {
		photo, err := load(productPath)
		if err != nil {
			return nil, err
		}
		parts = append(parts, scaleToWidth(photo, Width-2*margin))
	}

	if code != "" {
		bc, err := code128.Encode(code)
		if err != nil {
			return nil, fmt.Errorf("encode barcode %q: %w", code, err)
		}
		scaled, err := barcode.Scale(bc, Width-2*margin, barcodeHeight)
		if err != nil {
			return nil, fmt.Errorf("scale barcode: %w", err)
		}
		parts = append(parts, scaled)
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("compose image: nothing to draw")
	}

	height := margin
	for _, p := range parts {
		height += p.Bounds().Dy() + margin
	}

	canvas := image.NewRGBA(image.Rect(0, 0, Width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	y := margin
	for _, p := range parts {
		b := p.Bounds()
		x := (Width - b.Dx()) / 2
		draw.Draw(canvas, image.Rect(x, y, x+b.Dx(), y+b.Dy()), p, b.Min, draw.Over)
		y += b.Dy() + margin
	}
	return canvas, nil
}

// WritePNG encodes img to path.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open product image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode product image %s: %w", path, err)
	}
	return img, nil
}

// scaleToWidth resamples with Catmull-Rom, keeping the aspect ratio. Images
// already narrower than w are left alone.
func scaleToWidth(src image.Image, w int) image.Image {
	b := src.Bounds()
	if b.Dx() <= w || b.Dx() == 0 {
		return src
	}
	h := max(b.Dy()*w/b.Dx(), 1)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
