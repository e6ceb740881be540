package ingest

import (
	"bytes"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	ImageMaxWidth = 1024
	ImageQuality  = 70
)

// NormalizeImage decodes a captured image, applies its EXIF orientation,
// shrinks it to at most ImageMaxWidth pixels wide and re-encodes it as JPEG.
func NormalizeImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, invalid(RuleImage, "cannot decode image: %v", err)
	}
	if img.Bounds().Dx() > ImageMaxWidth {
		img = imaging.Resize(img, ImageMaxWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(ImageQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func jpegName(name string) string {
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	return base + ".jpg"
}
