package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/shiro-booru/shiro/internal/media"
	"github.com/shiro-booru/shiro/internal/store"
)

// thumbnailMaxDim is the bounding-box edge of generated thumbnails.
const thumbnailMaxDim = 400

// thumbnailRelPath is the deterministic location of a thumbnail under the
// thumbnail root. One thumbnail serves every post sharing (library, hash).
func thumbnailRelPath(libraryID int64, contentHash string) string {
	return fmt.Sprintf("%d/%s.webp", libraryID, contentHash)
}

// runGenerateThumbnails renders a WebP thumbnail per distinct (library, hash)
// image. In Missing mode an existing destination file is skipped.
func runGenerateThumbnails(ctx context.Context, jc *JobContext, st *store.Store, root string, parallelism int) (string, error) {
	refs, err := st.ThumbnailSources(ctx)
	if err != nil {
		return "", err
	}
	if parallelism < 1 {
		parallelism = 1
	}

	var generated, skipped, failed atomic.Int64
	var progress atomic.Int64
	total := int64(len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, ref := range refs {
		g.Go(func() error {
			defer func() {
				jc.Reporter.Update(JobState{
					Activity: "generating thumbnails",
					Current:  progress.Add(1),
					Total:    total,
				})
			}()
			if gctx.Err() != nil {
				return nil
			}
			if !media.IsImageContentType(ref.ContentType) {
				skipped.Add(1)
				return nil
			}

			dst := filepath.Join(root, filepath.FromSlash(thumbnailRelPath(ref.LibraryID, ref.ContentHash)))
			if jc.Mode == ModeMissing {
				if _, err := os.Stat(dst); err == nil {
					skipped.Add(1)
					return nil
				}
			}

			src := filepath.Join(ref.LibraryPath, filepath.FromSlash(ref.RelativePath))
			err := media.Thumbnail(src, dst, thumbnailMaxDim)
			switch {
			case errors.Is(err, media.ErrUndecodable):
				skipped.Add(1)
			case err != nil:
				slog.Warn("generate thumbnail", "src", src, "error", err)
				failed.Add(1)
			default:
				generated.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	summary := fmt.Sprintf("generated %d thumbnails, skipped %d, %d failures",
		generated.Load(), skipped.Load(), failed.Load())
	jc.Reporter.Update(JobState{Final: summary})
	return summary, nil
}

// runCleanupThumbnails deletes files under the thumbnail root that no
// (library, hash) pair requires anymore.
func runCleanupThumbnails(ctx context.Context, jc *JobContext, st *store.Store, root string) (string, error) {
	refs, err := st.ThumbnailSources(ctx)
	if err != nil {
		return "", err
	}
	required := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		required[thumbnailRelPath(ref.LibraryID, ref.ContentHash)] = struct{}{}
	}

	jc.Reporter.Update(JobState{Activity: "walking thumbnail root"})

	var deleted, failed int64
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // empty root: nothing to clean
			}
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if _, ok := required[filepath.ToSlash(rel)]; ok {
			return nil
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("delete orphaned thumbnail", "path", path, "error", err)
			failed++
			return nil
		}
		deleted++
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}

	summary := fmt.Sprintf("deleted %d orphaned thumbnails, %d failures", deleted, failed)
	jc.Reporter.Update(JobState{Final: summary})
	return summary, nil
}
