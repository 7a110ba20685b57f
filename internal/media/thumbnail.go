package media

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/draw"
)

// ErrUndecodable is returned by Thumbnail for files that no pure-Go decoder
// handles (videos, heic, avif). Callers count these as skipped, not failed.
var ErrUndecodable = errors.New("no decoder for file")

// Thumbnail renders the image at srcPath as a WebP thumbnail at dstPath,
// scaled to fit within maxDim × maxDim while preserving the aspect ratio.
// The parent directory of dstPath is created if missing; the file is written
// via a temp file and rename so readers never see a partial thumbnail.
func Thumbnail(srcPath, dstPath string, maxDim int) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %q: %w", srcPath, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode %q: %w", srcPath, ErrUndecodable)
	}

	thumb := resizeFit(src, maxDim, maxDim)

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("create thumbnail dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), ".thumb-*")
	if err != nil {
		return fmt.Errorf("create temp thumbnail: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := nativewebp.Encode(tmp, thumb, nil); err != nil {
		tmp.Close()
		return fmt.Errorf("encode webp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dstPath)
}

// resizeFit scales src to fit within the dstW x dstH bounding box,
// preserving the aspect ratio, using BiLinear interpolation.
func resizeFit(src image.Image, dstW, dstH int) image.Image {
	srcBounds := src.Bounds()
	srcW := srcBounds.Dx()
	srcH := srcBounds.Dy()

	if srcW == 0 || srcH == 0 {
		return src
	}

	scaleW := float64(dstW) / float64(srcW)
	scaleH := float64(dstH) / float64(srcH)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}

	// No upscaling — if the image already fits, return as-is.
	if scale >= 1.0 {
		return src
	}

	newW := int(float64(srcW) * scale)
	newH := int(float64(srcH) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewNRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, srcBounds, draw.Over, nil)
	return dst
}
