package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	DBPath        string     `yaml:"db_path"        json:"-"`
	HTTPAddr      string     `yaml:"http_addr"      json:"-"`
	LogLevel      string     `yaml:"log_level"      json:"-"`
	ThumbnailPath string     `yaml:"thumbnail_path" json:"thumbnail_path"`
	Scanner       Scanner    `yaml:"scanner"        json:"scanner"`
	Processing    Processing `yaml:"processing"     json:"processing"`
	Duplicates    Duplicates `yaml:"duplicates"     json:"duplicates"`
}

// Scanner holds concurrency knobs for library synchronization.
type Scanner struct {
	Parallelism int `yaml:"parallelism" json:"parallelism"`
}

// Processing holds worker counts for the derived-data jobs and the
// cron-scheduler toggle.
type Processing struct {
	MetadataParallelism   int `yaml:"metadata_parallelism"   json:"metadata_parallelism"`
	ThumbnailParallelism  int `yaml:"thumbnail_parallelism"  json:"thumbnail_parallelism"`
	SimilarityParallelism int `yaml:"similarity_parallelism" json:"similarity_parallelism"`
	// RunScheduler is a pointer so "absent" and "false" stay distinct;
	// absent defaults to true.
	RunScheduler *bool `yaml:"run_scheduler" json:"run_scheduler"`
}

// Duplicates holds perceptual-match thresholds, both fractions in (0, 1].
// CrossTypeThreshold applies when either post in a candidate pair is not an
// image (e.g. an animation paired with a still frame).
type Duplicates struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	CrossTypeThreshold  float64 `yaml:"cross_type_threshold" json:"cross_type_threshold"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "/data/shiro.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ThumbnailPath == "" {
		c.ThumbnailPath = "/data/thumbnails"
	}
	if c.Scanner.Parallelism < 1 {
		c.Scanner.Parallelism = 1
	}
	if c.Processing.MetadataParallelism < 1 {
		c.Processing.MetadataParallelism = 4
	}
	if c.Processing.ThumbnailParallelism < 1 {
		c.Processing.ThumbnailParallelism = 4
	}
	if c.Processing.SimilarityParallelism < 1 {
		c.Processing.SimilarityParallelism = 2
	}
	if c.Processing.RunScheduler == nil {
		enabled := true
		c.Processing.RunScheduler = &enabled
	}
	if c.Duplicates.SimilarityThreshold <= 0 || c.Duplicates.SimilarityThreshold > 1 {
		c.Duplicates.SimilarityThreshold = 0.68
	}
	if c.Duplicates.CrossTypeThreshold <= 0 || c.Duplicates.CrossTypeThreshold > 1 {
		c.Duplicates.CrossTypeThreshold = 0.90
	}
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so the server
// can start without a mounted config file (useful for bare Docker runs).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}
