// Package pdq computes a 256-bit DCT-based perceptual hash for images,
// serialized as 64 hex characters. Hashes of visually similar images have a
// small Hamming distance.
package pdq

import (
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/bits"
	"os"
	"sort"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Bits is the hash width.
const Bits = 256

// downsampleDim is the luma plane edge length fed into the DCT.
const downsampleDim = 64

// dctDim is the edge length of the low-frequency block kept from the DCT.
const dctDim = 16

// Hash is a 256-bit perceptual hash stored as four 64-bit words,
// word 0 holding the lowest-frequency bits.
type Hash [4]uint64

// Parse decodes a 64-character hex string into a Hash.
func Parse(s string) (Hash, error) {
	var h Hash
	if len(s) != Bits/4 {
		return h, fmt.Errorf("perceptual hash must be %d hex chars, got %d", Bits/4, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("perceptual hash: %w", err)
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 8; j++ {
			h[i] = h[i]<<8 | uint64(raw[i*8+j])
		}
	}
	return h, nil
}

// String returns the 64-character hex serialization.
func (h Hash) String() string {
	raw := make([]byte, Bits/8)
	for i := 0; i < 4; i++ {
		w := h[i]
		for j := 7; j >= 0; j-- {
			raw[i*8+j] = byte(w)
			w >>= 8
		}
	}
	return hex.EncodeToString(raw)
}

// Distance returns the Hamming distance between a and b over 256 bits.
func Distance(a, b Hash) int {
	return bits.OnesCount64(a[0]^b[0]) +
		bits.OnesCount64(a[1]^b[1]) +
		bits.OnesCount64(a[2]^b[2]) +
		bits.OnesCount64(a[3]^b[3])
}

// Similarity returns 1 − distance/256, in [0, 1].
func Similarity(a, b Hash) float64 {
	return 1 - float64(Distance(a, b))/Bits
}

// FromFile decodes the image at path and returns its hash.
func FromFile(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Hash{}, fmt.Errorf("decode %q: %w", path, err)
	}
	return FromImage(img), nil
}

// FromImage hashes an already-decoded image: downsample to a 64×64 luma
// plane, apply a 2-D DCT, keep the 16×16 lowest-frequency coefficients
// (skipping the DC row and column), and threshold each at the median.
func FromImage(img image.Image) Hash {
	luma := lumaPlane(img)
	coeffs := dct16(luma)

	sorted := make([]float64, len(coeffs))
	copy(sorted, coeffs)
	sort.Float64s(sorted)
	median := (sorted[Bits/2-1] + sorted[Bits/2]) / 2

	var h Hash
	for i, c := range coeffs {
		if c > median {
			h[i/64] |= 1 << (63 - uint(i%64))
		}
	}
	return h
}

// lumaPlane scales img to downsampleDim² and converts to luminance.
func lumaPlane(img image.Image) []float64 {
	scaled := image.NewNRGBA(image.Rect(0, 0, downsampleDim, downsampleDim))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)

	luma := make([]float64, downsampleDim*downsampleDim)
	for y := 0; y < downsampleDim; y++ {
		for x := 0; x < downsampleDim; x++ {
			off := scaled.PixOffset(x, y)
			r := float64(scaled.Pix[off])
			g := float64(scaled.Pix[off+1])
			b := float64(scaled.Pix[off+2])
			luma[y*downsampleDim+x] = 0.299*r + 0.587*g + 0.114*b
		}
	}
	return luma
}

var cosTable = buildCosTable()

// buildCosTable precomputes cos((2x+1)·u·π/(2N)) for the dctDim frequencies
// actually used (u in 1..dctDim).
func buildCosTable() [dctDim][downsampleDim]float64 {
	var t [dctDim][downsampleDim]float64
	for u := 0; u < dctDim; u++ {
		for x := 0; x < downsampleDim; x++ {
			t[u][x] = math.Cos(float64(2*x+1) * float64(u+1) * math.Pi / (2 * downsampleDim))
		}
	}
	return t
}

// dct16 computes the dctDim×dctDim low-frequency block of the 2-D DCT-II of
// a downsampleDim² plane, excluding the DC row and column. Done separably:
// rows first, then columns.
func dct16(luma []float64) []float64 {
	// Row pass: downsampleDim rows × dctDim frequencies.
	var inter [downsampleDim][dctDim]float64
	for y := 0; y < downsampleDim; y++ {
		row := luma[y*downsampleDim : (y+1)*downsampleDim]
		for u := 0; u < dctDim; u++ {
			var sum float64
			for x := 0; x < downsampleDim; x++ {
				sum += row[x] * cosTable[u][x]
			}
			inter[y][u] = sum
		}
	}

	// Column pass.
	out := make([]float64, dctDim*dctDim)
	for v := 0; v < dctDim; v++ {
		for u := 0; u < dctDim; u++ {
			var sum float64
			for y := 0; y < downsampleDim; y++ {
				sum += inter[y][u] * cosTable[v][y]
			}
			out[v*dctDim+u] = sum
		}
	}
	return out
}
