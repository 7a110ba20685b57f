package media

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"
)

func TestDetect(t *testing.T) {
	assert.Equal(t, KindImage, Detect("a/b/photo.JPG"))
	assert.Equal(t, KindImage, Detect("anim.gif"))
	assert.Equal(t, KindVideo, Detect("clip.Mp4"))
	assert.Equal(t, KindVideo, Detect("movie.mkv"))
	assert.Equal(t, KindOther, Detect("notes.txt"))
	assert.Equal(t, KindOther, Detect("noext"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentType("x.jpeg"))
	assert.Equal(t, "image/webp", ContentType("x.webp"))
	assert.Equal(t, "video/quicktime", ContentType("x.MOV"))
	assert.Equal(t, "application/octet-stream", ContentType("x.doc"))
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("p.png"))
	assert.True(t, IsSupported("v.webm"))
	assert.False(t, IsSupported("readme.md"))
}

func TestIsImageContentType(t *testing.T) {
	assert.True(t, IsImageContentType("image/png"))
	assert.False(t, IsImageContentType("video/mp4"))
	assert.False(t, IsImageContentType(""))
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	writePNG(t, path, 320, 200)

	w, h, err := Dimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 320, w)
	assert.Equal(t, 200, h)
}

func TestDimensionsUndecodableYieldsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	w, h, err := Dimensions(path)
	require.NoError(t, err)
	assert.Zero(t, w)
	assert.Zero(t, h)
}

func TestDimensionsMissingFile(t *testing.T) {
	_, _, err := Dimensions(filepath.Join(t.TempDir(), "gone.png"))
	assert.Error(t, err)
}

func TestThumbnailDownscales(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.png")
	dst := filepath.Join(dir, "thumbs", "big.webp")
	writePNG(t, src, 800, 600)

	require.NoError(t, Thumbnail(src, dst, 400))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	img, err := webp.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())
}

func TestThumbnailNeverUpscales(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "small.png")
	dst := filepath.Join(dir, "small.webp")
	writePNG(t, src, 100, 80)

	require.NoError(t, Thumbnail(src, dst, 400))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	img, err := webp.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())
}

func TestThumbnailUndecodable(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "corrupt.jpg")
	require.NoError(t, os.WriteFile(src, []byte("\xff\xd8 nope"), 0o644))

	err := Thumbnail(src, filepath.Join(dir, "out.webp"), 400)
	assert.ErrorIs(t, err, ErrUndecodable)
}
