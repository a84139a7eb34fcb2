package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
)

// FileWatcher reports changes below a set of directories as FileChanged
// hooks. Paths are matched, relative to their root, against doublestar
// patterns such as "**/*.go".
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	roots    []string
	patterns []string
	emit     func(protocol.FileChanged)
	log      *logging.Logger
}

// NewFileWatcher watches every directory below dirs. Hidden directories are
// skipped.
func NewFileWatcher(dirs, patterns []string, log *logging.Logger, emit func(protocol.FileChanged)) (*FileWatcher, error) {
	if log == nil {
		log = logging.NewNop()
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid watch pattern %q", p)
		}
	}
	if len(patterns) == 0 {
		patterns = []string{"**"}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	fw := &FileWatcher{
		watcher:  w,
		patterns: patterns,
		emit:     emit,
		log:      log.Component("watcher"),
	}
	for _, dir := range dirs {
		root, err := filepath.Abs(dir)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to resolve watch dir %s: %w", dir, err)
		}
		if err := fw.addTree(root); err != nil {
			w.Close()
			return nil, err
		}
		fw.roots = append(fw.roots, root)
	}
	return fw, nil
}

// addTree watches dir and every non-hidden directory below it
func (fw *FileWatcher) addTree(dir string) error {
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(p); err != nil {
			fw.log.Debug("Failed to watch directory", zap.String("dir", p), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return nil
}

// Match reports whether path lies below a root and matches a pattern
func (fw *FileWatcher) Match(path string) bool {
	for _, root := range fw.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		for _, pattern := range fw.patterns {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				return true
			}
		}
	}
	return false
}

// Run forwards matching events until ctx ends, then closes the watcher
func (fw *FileWatcher) Run(ctx context.Context) error {
	defer fw.watcher.Close()
	fw.log.Info("File watcher started", zap.Strings("roots", fw.roots))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			fw.handle(ev)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			fw.log.Warn("File watcher error", zap.Error(err))
		}
	}
}

func (fw *FileWatcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := fw.addTree(ev.Name); err != nil {
				fw.log.Debug("Failed to watch new directory", zap.Error(err))
			}
		}
	}
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return
	}
	if !fw.Match(ev.Name) {
		return
	}
	fw.emit(protocol.FileChanged{Path: ev.Name, Op: ev.Op.String()})
}
