package loader

import (
	"context"
	"fmt"
	"log"

	"github.com/tinytelemetry/logfeed/internal/model"
	"github.com/tinytelemetry/logfeed/internal/objectstore"
)

// Config locates the source document and controls parsing.
type Config struct {
	Bucket      string
	ObjectKey   string
	Policy      Policy
	MaxLineSize int
}

// Loader reads one JSONL object from the object store.
type Loader struct {
	store  objectstore.Getter
	cfg    Config
	logger *log.Logger
}

// New creates a Loader. A nil logger disables progress output.
func New(store objectstore.Getter, cfg Config, logger *log.Logger) *Loader {
	return &Loader{store: store, cfg: cfg, logger: logger}
}

// URL returns the s3:// location the loader reads.
func (l *Loader) URL() string {
	return objectstore.FormatURL(l.cfg.Bucket, l.cfg.ObjectKey)
}

// Fetch downloads and parses the whole document.
func (l *Loader) Fetch(ctx context.Context) (model.Batch, error) {
	logf(l.logger, "Downloading %s from %s...", l.cfg.ObjectKey, l.URL())

	rc, err := l.store.Get(ctx, l.cfg.Bucket, l.cfg.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", l.URL(), err)
	}
	defer rc.Close()

	batch, err := Parse(rc, l.parseOptions())
	if err != nil {
		return nil, err
	}
	logf(l.logger, "Successfully downloaded %d log entries", len(batch))
	return batch, nil
}

// Load is Fetch with every failure reported and collapsed to an empty batch.
func (l *Loader) Load(ctx context.Context) model.Batch {
	batch, err := l.Fetch(ctx)
	if err != nil {
		logf(l.logger, "Error downloading from S3: %v", err)
		return nil
	}
	return batch
}

func (l *Loader) parseOptions() ParseOptions {
	return ParseOptions{
		Policy:      l.cfg.Policy,
		MaxLineSize: l.cfg.MaxLineSize,
		Logger:      l.logger,
	}
}
