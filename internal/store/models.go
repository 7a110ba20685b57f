package store

import "time"

// Library is a configured root directory whose contents map 1-to-1 to posts.
type Library struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Path              string    `json:"path"`
	ScanIntervalHours int       `json:"scan_interval_hours"`
	CreatedAt         time.Time `json:"created_at"`
	IgnoredPrefixes   []string  `json:"ignored_prefixes,omitempty"`
}

// Post is one catalog entry for one media file.
// Width == 0 or ContentType == "" means metadata has not been extracted yet;
// PDQHash == "" means the perceptual hash has not been computed yet.
type Post struct {
	ID                 int64     `json:"id"`
	LibraryID          int64     `json:"library_id"`
	RelativePath       string    `json:"relative_path"`
	ContentHash        string    `json:"content_hash"`
	SizeBytes          int64     `json:"size_bytes"`
	Width              int       `json:"width"`
	Height             int       `json:"height"`
	ContentType        string    `json:"content_type"`
	ImportDate         time.Time `json:"import_date"`
	FileModifiedDate   time.Time `json:"file_modified_date"`
	FileIdentityDevice string    `json:"file_identity_device,omitempty"`
	FileIdentityValue  string    `json:"file_identity_value,omitempty"`
	PDQHash            string    `json:"pdq_hash,omitempty"`
	IsFavorite         bool      `json:"is_favorite"`
}

// PostTag attaches a tag to a post via a source.
type PostTag struct {
	PostID int64  `json:"post_id"`
	TagID  int64  `json:"tag_id"`
	Source string `json:"source"`
}

// PostSource is one external URL of a post, ordered.
type PostSource struct {
	PostID int64  `json:"post_id"`
	URL    string `json:"url"`
	Order  int    `json:"order"`
}

// Tag is a normalized name attachable to posts. PostCount is maintained by
// database triggers.
type Tag struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	TagCategoryID *int64 `json:"tag_category_id,omitempty"`
	PostCount     int64  `json:"post_count"`
}

// TagCategory groups tags for display.
type TagCategory struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Order int    `json:"order"`
}

// ExcludedFile marks a (library, path, hash) as deliberately omitted.
// A future scan matching the path skips ingestion only while the on-disk
// hash still equals ContentHash.
type ExcludedFile struct {
	ID           int64     `json:"id"`
	LibraryID    int64     `json:"library_id"`
	RelativePath string    `json:"relative_path"`
	ContentHash  string    `json:"content_hash"`
	ExcludedDate time.Time `json:"excluded_date"`
	Reason       string    `json:"reason"`
}

// Duplicate group types.
const (
	GroupExact      = "exact"
	GroupPerceptual = "perceptual"
)

// DuplicateGroup is a set of ≥2 posts deemed duplicates.
// SimilarityPercent is nil for exact groups.
type DuplicateGroup struct {
	ID                int64     `json:"id"`
	Type              string    `json:"type"`
	SimilarityPercent *int      `json:"similarity_percent,omitempty"`
	IsResolved        bool      `json:"is_resolved"`
	DetectedDate      time.Time `json:"detected_date"`
	PostIDs           []int64   `json:"post_ids,omitempty"`
}

// Job execution statuses.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// JobExecution is one persisted run of a background job.
type JobExecution struct {
	ID           int64      `json:"id"`
	JobName      string     `json:"job_name"`
	Status       string     `json:"status"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// ScheduledJob is a cron-driven launch rule for a named job.
type ScheduledJob struct {
	ID             int64      `json:"id"`
	JobName        string     `json:"job_name"`
	CronExpression string     `json:"cron_expression"`
	IsEnabled      bool       `json:"is_enabled"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty"`
}

// PostAuditEntry is one append-only audit row, written by database triggers.
type PostAuditEntry struct {
	ID         int64     `json:"id"`
	PostID     int64     `json:"post_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Entity     string    `json:"entity"`
	Operation  string    `json:"operation"`
	Field      string    `json:"field"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
}
