// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/poiesic/groundrag/core"
	"github.com/poiesic/groundrag/loader"
	"github.com/poiesic/groundrag/storage"
)

// Indexer is the subset of Pipeline a Watcher drives.
type Indexer interface {
	AddDocument(ctx context.Context, doc *core.Document) (Result, error)
	RemoveDocument(ctx context.Context, id string) (int, error)
}

var _ Indexer = (*Pipeline)(nil)

// Watcher re-indexes files below a directory as they change.
// Created or written files are re-added; removed or renamed files are
// removed from the knowledge base.
type Watcher struct {
	indexer Indexer
	dir     string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher) error

// WithWatcherLogger sets a custom logger.
// Default is slog.Default().
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// NewWatcher starts watching dir and every non-hidden directory below it.
// Events are only handled once Run is called.
func NewWatcher(indexer Indexer, dir string, opts ...WatcherOption) (*Watcher, error) {
	if indexer == nil {
		return nil, errors.New("indexer required")
	}

	w := &Watcher{
		indexer: indexer,
		dir:     dir,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	w.logger = w.logger.With("component", "watcher", "dir", dir)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.watcher = fw

	if err := w.addTree(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		w.logger.Debug("watching directory", "path", path)
		return w.watcher.Add(path)
	})
}

// Run handles file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watching for changes")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "err", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Error("error watching new directory", "path", event.Name, "err", err)
			}
			return
		}
	}
	if !loader.Supported(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		doc, err := loader.Load(event.Name)
		if err != nil {
			w.logger.Warn("could not read file", "path", event.Name, "err", err)
			return
		}
		if strings.TrimSpace(doc.Text) == "" {
			// Editors often truncate before writing.
			return
		}
		if _, err := w.indexer.AddDocument(ctx, doc); err != nil {
			w.logger.Error("error indexing file", "path", event.Name, "err", err)
		}
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		id := core.DocumentIDFromSource(loader.SourceName(event.Name))
		if _, err := w.indexer.RemoveDocument(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			w.logger.Error("error removing file", "path", event.Name, "err", err)
		}
	}
}

// Close stops watching. A running Run returns.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
