// Package media derives MIME types from file extensions and performs the
// image processing the catalog needs: dimension extraction and thumbnail
// rendering. Videos are cataloged by extension only; their dimensions stay
// unknown until an external probe is wired in.
package media

import (
	"path/filepath"
	"strings"
)

// Kind classifies a file for grouping and display.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindOther Kind = "other"
)

var imageMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".avif": "image/avif",
	".heic": "image/heic",
	".heif": "image/heif",
}

var videoMIME = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
}

// IsSupported reports whether the file at path is a cataloged media type.
func IsSupported(path string) bool {
	return Detect(path) != KindOther
}

// Detect returns the Kind for the given file path based on extension.
// gif is an image for matching purposes even though the UI animates it.
func Detect(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageMIME[ext] != "":
		return KindImage
	case videoMIME[ext] != "":
		return KindVideo
	default:
		return KindOther
	}
}

// ContentType returns the MIME content type for the file based on its
// extension, or "application/octet-stream" for unknown types.
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := imageMIME[ext]; ok {
		return ct
	}
	if ct, ok := videoMIME[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// IsImageContentType reports whether ct is an image MIME type.
func IsImageContentType(ct string) bool {
	return strings.HasPrefix(ct, "image/")
}
