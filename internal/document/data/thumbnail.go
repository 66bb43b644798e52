package data

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// makeThumbnail 等比缩放到 size×size 以内，输出 JPEG
func makeThumbnail(data []byte, size int) ([]byte, error) {
	if size <= 0 {
		size = 320
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	var thumb image.Image = img
	b := img.Bounds()
	if b.Dx() > size || b.Dy() > size {
		thumb = imaging.Fit(img, size, size, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(75)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
