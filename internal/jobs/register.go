package jobs

import (
	"context"

	"github.com/shiro-booru/shiro/internal/config"
	"github.com/shiro-booru/shiro/internal/store"
	"github.com/shiro-booru/shiro/internal/syncer"
)

// RegisterAll wires every built-in job into the engine.
func RegisterAll(e *Engine, st *store.Store, sy *syncer.Syncer, cfg *config.Config) {
	e.Register(Handler{
		Key:          "scan-all-libraries",
		Name:         "Scan All Libraries",
		Description:  "Synchronize every library with its directory tree.",
		DisplayOrder: 10,
		Run: func(ctx context.Context, jc *JobContext) (string, error) {
			return runScanAll(ctx, jc, st, sy)
		},
	})
	e.Register(Handler{
		Key:             "extract-metadata",
		Name:            "Extract Metadata",
		Description:     "Read image dimensions and content types from files.",
		SupportsAllMode: true,
		DisplayOrder:    20,
		Run: func(ctx context.Context, jc *JobContext) (string, error) {
			return runExtractMetadata(ctx, jc, st, cfg.Processing.MetadataParallelism)
		},
	})
	e.Register(Handler{
		Key:             "compute-similarity",
		Name:            "Compute Similarity",
		Description:     "Compute perceptual hashes for image posts.",
		SupportsAllMode: true,
		DisplayOrder:    30,
		Run: func(ctx context.Context, jc *JobContext) (string, error) {
			return runComputeSimilarity(ctx, jc, st, cfg.Processing.SimilarityParallelism)
		},
	})
	e.Register(Handler{
		Key:             "generate-thumbnails",
		Name:            "Generate Thumbnails",
		Description:     "Render WebP thumbnails for every distinct file.",
		SupportsAllMode: true,
		DisplayOrder:    40,
		Run: func(ctx context.Context, jc *JobContext) (string, error) {
			return runGenerateThumbnails(ctx, jc, st, cfg.ThumbnailPath, cfg.Processing.ThumbnailParallelism)
		},
	})
	e.Register(Handler{
		Key:          "cleanup-thumbnails",
		Name:         "Cleanup Thumbnails",
		Description:  "Delete thumbnail files no post needs anymore.",
		DisplayOrder: 50,
		Run: func(ctx context.Context, jc *JobContext) (string, error) {
			return runCleanupThumbnails(ctx, jc, st, cfg.ThumbnailPath)
		},
	})
	e.Register(Handler{
		Key:          "apply-folder-tags",
		Name:         "Apply Folder Tags",
		Description:  "Derive tags from directory names and reconcile them.",
		DisplayOrder: 60,
		Run: func(ctx context.Context, jc *JobContext) (string, error) {
			return runApplyFolderTags(ctx, jc, st)
		},
	})
	e.Register(Handler{
		Key:          "sanitize-tags",
		Name:         "Sanitize Tag Names",
		Description:  "Normalize tag names and merge resulting duplicates.",
		DisplayOrder: 70,
		Run: func(ctx context.Context, jc *JobContext) (string, error) {
			return runSanitizeTags(ctx, jc, st)
		},
	})
	e.Register(Handler{
		Key:          "find-duplicates",
		Name:         "Find Duplicates",
		Description:  "Detect exact and perceptual duplicate groups.",
		DisplayOrder: 80,
		Run: func(ctx context.Context, jc *JobContext) (string, error) {
			return runFindDuplicates(ctx, jc, st,
				cfg.Duplicates.SimilarityThreshold, cfg.Duplicates.CrossTypeThreshold)
		},
	})
	e.Register(Handler{
		Key:          "cleanup-exclusions",
		Name:         "Cleanup Exclusions",
		Description:  "Drop exclusions whose file vanished or changed.",
		DisplayOrder: 90,
		Run: func(ctx context.Context, jc *JobContext) (string, error) {
			return runCleanupExclusions(ctx, jc, st)
		},
	})
}
