package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeDims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if format != "jpeg" {
		t.Fatalf("format = %q, want jpeg", format)
	}
	return cfg.Width, cfg.Height
}

func TestAvatarThumbnailIsSquare(t *testing.T) {
	out, err := AvatarThumbnail(pngBytes(t, 640, 480))
	if err != nil {
		t.Fatal(err)
	}
	w, h := decodeDims(t, out)
	if w != AvatarSize || h != AvatarSize {
		t.Fatalf("got %dx%d, want %dx%d", w, h, AvatarSize, AvatarSize)
	}
}

func TestAvatarThumbnailFromPortrait(t *testing.T) {
	out, err := AvatarThumbnail(pngBytes(t, 200, 900))
	if err != nil {
		t.Fatal(err)
	}
	w, h := decodeDims(t, out)
	if w != AvatarSize || h != AvatarSize {
		t.Fatalf("got %dx%d, want square", w, h)
	}
}

func TestPostThumbnailKeepsAspect(t *testing.T) {
	out, err := PostThumbnail(pngBytes(t, 600, 300))
	if err != nil {
		t.Fatal(err)
	}
	w, h := decodeDims(t, out)
	if w != PostThumbSize || h != PostThumbSize/2 {
		t.Fatalf("got %dx%d, want %dx%d", w, h, PostThumbSize, PostThumbSize/2)
	}
}

func TestPostThumbnailLeavesSmallImages(t *testing.T) {
	out, err := PostThumbnail(pngBytes(t, 100, 80))
	if err != nil {
		t.Fatal(err)
	}
	w, h := decodeDims(t, out)
	if w != 100 || h != 80 {
		t.Fatalf("got %dx%d, want the native 100x80", w, h)
	}
}

func TestMalformedImage(t *testing.T) {
	if _, err := AvatarThumbnail([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := PostThumbnail(nil); err == nil {
		t.Fatal("expected decode error")
	}
}
