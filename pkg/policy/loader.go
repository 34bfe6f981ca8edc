package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// settle is how long a watch waits after the last change before reloading.
const settle = 300 * time.Millisecond

type parseFunc func(path string, data []byte) (*Policy, error)

// parsers maps a file extension to the decoder for it. Other files in a
// policy directory are skipped.
var parsers = map[string]parseFunc{
	".rego": parseRego,
	".json": parseJSON,
}

// Loader reads policies from .rego and .json files and remembers each file
// until ClearCache or a watched change evicts it.
type Loader struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	files map[string]*Policy
}

// NewLoader returns an empty loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		files:  map[string]*Policy{},
	}
}

// LoadFromPaths loads every policy under paths, in argument order. A
// directory contributes its policy files in lexical walk order.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var out []Policy
	for _, root := range paths {
		files, err := policyFiles(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", root, err)
		}
		for _, f := range files {
			p, err := l.loadFromFile(f)
			if err != nil {
				return nil, fmt.Errorf("failed to load from path %s: %w", root, err)
			}
			out = append(out, *p)
		}
	}

	l.logger.Debug().Int("total", len(out)).Int("sources", len(paths)).Msg("Policies loaded")
	return out, nil
}

// policyFiles lists root itself when it is a file, or the policy files
// below it when it is a directory.
func policyFiles(ctx context.Context, root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case !d.IsDir() && isPolicyFile(path):
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func isPolicyFile(path string) bool {
	_, ok := parsers[filepath.Ext(path)]
	return ok
}

func (l *Loader) cached(path string) (*Policy, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.files[path]
	return p, ok
}

func (l *Loader) forget(path string) {
	l.mu.Lock()
	delete(l.files, path)
	l.mu.Unlock()
}

func (l *Loader) loadFromFile(path string) (*Policy, error) {
	if p, ok := l.cached(path); ok {
		return p, nil
	}

	parse, ok := parsers[filepath.Ext(path)]
	if !ok {
		return nil, fmt.Errorf("unsupported policy file %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := parse(path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Source = path

	l.mu.Lock()
	l.files[path] = p
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy loaded")
	return p, nil
}

// ClearCache drops every remembered file, so the next load rereads disk.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.files = map[string]*Policy{}
	l.mu.Unlock()
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// parseRego names the policy after its file and describes it with the
// comment lines before the first statement.
func parseRego(path string, data []byte) (*Policy, error) {
	src := string(data)
	return &Policy{
		Name:        baseName(path),
		Description: leadingComment(src),
		Rego:        src,
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{},
	}, nil
}

func parseJSON(path string, data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid JSON policy: %w", err)
	}
	if p.Name == "" {
		p.Name = baseName(path)
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	return &p, nil
}

func leadingComment(src string) string {
	var words []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		text, ok := strings.CutPrefix(line, "#")
		if !ok {
			break
		}
		if text = strings.TrimSpace(text); text != "" {
			words = append(words, text)
		}
	}
	return strings.Join(words, " ")
}

// Watch reloads the policies under paths whenever a policy file below them
// changes, handing each fresh set to reload. Bursts of events collapse into
// one reload. Paths that cannot be watched are logged and skipped. Watching
// stops when ctx is done.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, root := range paths {
		if err := addWatches(w, root); err != nil {
			l.logger.Warn().Err(err).Str("path", root).Msg("Cannot watch policy path")
		}
	}

	go l.watchLoop(ctx, w, func() {
		policies, err := l.LoadFromPaths(ctx, paths)
		if err == nil {
			err = reload(policies)
		}
		if err != nil {
			l.logger.Error().Err(err).Msg("Policy reload failed")
			return
		}
		l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	})

	l.logger.Info().Int("paths", len(paths)).Msg("Watching policy paths")
	return nil
}

// addWatches watches a file directly, or a directory together with every
// directory below it.
func addWatches(w *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return w.Add(path)
	})
}

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

func (l *Loader) watchLoop(ctx context.Context, w *fsnotify.Watcher, fire func()) {
	defer w.Close()

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&relevantOps == 0 || !isPolicyFile(ev.Name) {
				continue
			}
			l.logger.Debug().Str("file", ev.Name).Stringer("op", ev.Op).Msg("Policy file changed")
			l.forget(ev.Name)

			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(settle, fire)
		}
	}
}
