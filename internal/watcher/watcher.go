// Package watcher re-runs ingestion when the documents directory changes.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var watchedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}

const debounceWindow = 2 * time.Second

// IngestFunc re-indexes the watched directory.
type IngestFunc func(ctx context.Context, dir string) error

// Watcher monitors the documents directory and triggers re-ingestion after
// changes settle. Bursts of events (editor saves, bulk copies) collapse into
// a single run.
type Watcher struct {
	fs     *fsnotify.Watcher
	dir    string
	ingest IngestFunc
	log    *zap.Logger
}

// New creates a Watcher over dir.
func New(dir string, ingest IngestFunc, log *zap.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, err
	}
	return &Watcher{fs: fs, dir: dir, ingest: ingest, log: log}, nil
}

// Run blocks until ctx is cancelled, re-ingesting after debounced changes.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !watchedExtensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				fire = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", zap.Error(err))
		case <-fire:
			timer = nil
			fire = nil
			w.log.Info("documents changed, re-ingesting", zap.String("dir", w.dir))
			if err := w.ingest(ctx, w.dir); err != nil {
				w.log.Error("re-ingestion failed", zap.Error(err))
			}
		}
	}
}

// Close stops the underlying file system watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
