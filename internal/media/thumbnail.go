// Package media re-encodes uploaded photos into the fixed-size JPEG
// thumbnails stored alongside the originals.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

const (
	// AvatarSize is the edge of the square, center-cropped avatar thumb.
	AvatarSize = 32
	// PostThumbSize is the bounding box posts thumbnails are fit into.
	PostThumbSize = 150

	jpegQuality = 80
)

// AvatarThumbnail decodes src and re-encodes it as a square JPEG of
// AvatarSize pixels, center-cropping the larger dimension.
func AvatarThumbnail(src []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return encodeJPEG(scaleCover(img, AvatarSize))
}

// PostThumbnail decodes src and re-encodes it as a JPEG that fits inside a
// PostThumbSize square, preserving aspect ratio.
func PostThumbnail(src []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return encodeJPEG(scaleFit(img, PostThumbSize))
}

// scaleCover scales img so the shorter edge equals size, then crops the
// overflow around the center.
func scaleCover(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return image.NewRGBA(image.Rect(0, 0, size, size))
	}

	// Crop the source to a centered square first, then scale once.
	side := w
	if h < side {
		side = h
	}
	x0 := b.Min.X + (w-side)/2
	y0 := b.Min.Y + (h-side)/2
	crop := image.Rect(x0, y0, x0+side, y0+side)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, crop, draw.Src, nil)
	return dst
}

// scaleFit scales img down to fit inside a size×size box. Images already
// inside the box are left at their native size.
func scaleFit(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	if w <= size && h <= size {
		return img
	}

	outW, outH := size, size
	if w > h {
		outH = h * size / w
	} else {
		outW = w * size / h
	}
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
