package media

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Dimensions reads the pixel dimensions of the image at path from its header
// only (fast — no full decode). EXIF orientations 5–8 rotate the frame, so
// width and height are swapped for those.
// Files without a registered decoder (videos, heic, avif) yield (0, 0) with
// a nil error; the caller records the MIME type regardless.
func Dimensions(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, nil
	}
	width, height = cfg.Width, cfg.Height

	if _, err := f.Seek(0, 0); err != nil {
		return width, height, nil
	}
	if exifRotated(f) {
		width, height = height, width
	}
	return width, height, nil
}

// exifRotated reports whether the EXIF orientation implies a 90° rotation.
func exifRotated(f *os.File) bool {
	x, err := exif.Decode(f)
	if err != nil {
		return false
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return false
	}
	v, err := tag.Int(0)
	if err != nil {
		return false
	}
	return v >= 5 && v <= 8
}
