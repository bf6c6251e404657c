package rule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads rule documents when files under the watched paths change.
type Watcher struct {
	logger  zerolog.Logger
	parser  *Parser
	watcher *fsnotify.Watcher
}

// NewWatcher creates a rule file watcher.
func NewWatcher(logger zerolog.Logger, parser *Parser) *Watcher {
	return &Watcher{
		logger: logger.With().Str("component", "rule-watcher").Logger(),
		parser: parser,
	}
}

// Watch starts watching paths for rule changes and invokes reloadFn with the
// full re-parsed rule set on change. Reloads are debounced so bulk edits
// trigger a single parse.
func (w *Watcher) Watch(ctx context.Context, paths []string, reloadFn func([]Rule) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}
		if info.IsDir() {
			if err := w.watchDirectory(path); err != nil {
				w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			}
		} else if err := watcher.Add(path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch file")
		}
	}

	go w.processEvents(ctx, paths, reloadFn)

	w.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching rule paths")

	return nil
}

// watchDirectory adds a directory tree to the watcher.
func (w *Watcher) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// processEvents processes file system events and triggers debounced reloads.
func (w *Watcher) processEvents(ctx context.Context, paths []string, reloadFn func([]Rule) error) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if w.watcher != nil {
				_ = w.watcher.Close()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isRuleFile(event.Name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Rule file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := w.triggerReload(paths, reloadFn); err != nil {
					w.logger.Error().Err(err).Msg("Failed to reload rules")
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// triggerReload re-parses all watched paths and hands the set to reloadFn.
func (w *Watcher) triggerReload(paths []string, reloadFn func([]Rule) error) error {
	w.logger.Info().Msg("Reloading rules...")

	var rules []Rule
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			// Removed path: skip, remaining paths still reload
			continue
		}
		var parsed []Rule
		if info.IsDir() {
			parsed, err = w.parser.ParseDir(path)
		} else {
			parsed, err = w.parser.ParseFile(path)
		}
		if err != nil {
			return fmt.Errorf("failed to reload rules: %w", err)
		}
		rules = append(rules, parsed...)
	}

	if err := reloadFn(rules); err != nil {
		return fmt.Errorf("failed to apply reloaded rules: %w", err)
	}

	w.logger.Info().
		Int("count", len(rules)).
		Msg("Rules reloaded successfully")

	return nil
}

// Stop stops watching for file changes.
func (w *Watcher) Stop() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func isRuleFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
