package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Include runs every file path resolves to against this runtime, sharing
// its open scopes. env is predeclared for the included files only. Scopes
// an included file leaves open are closed when it finishes.
func (r *Runtime) Include(ctx context.Context, path string, env map[string]any, isolated bool) error {
	if err := r.usable(); err != nil {
		return err
	}
	r.structClosed = false
	if r.opts.executor == nil {
		return r.errorf(ErrorClassInclude, "Cannot include '%s': no executor", path)
	}
	if err := r.checkEnv(env); err != nil {
		return err
	}

	isolated = isolated || r.isolated
	root := r.isolationRoot
	if isolated && root == "" {
		root = r.workdir
	}

	files, err := r.resolve(path, isolated, root)
	if err != nil {
		return r.fail(err)
	}

	loc := r.location
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return r.errorf(ErrorClassInclude, "Cannot read '%s': %v", path, err)
		}

		savedIsolated, savedRoot := r.isolated, r.isolationRoot
		r.isolated, r.isolationRoot = isolated, root
		err = r.exec(ctx, SourceFile{Filename: file, Source: data, Env: env}, filepath.Dir(file), true)
		r.isolated, r.isolationRoot = savedIsolated, savedRoot
		r.location = loc
		if err != nil {
			return err
		}
	}
	return nil
}

// exec runs one file with workdir and filename scoped to it.
func (r *Runtime) exec(ctx context.Context, file SourceFile, workdir string, included bool) error {
	savedWorkdir, savedFilename := r.workdir, r.filename
	defer func() {
		r.workdir, r.filename = savedWorkdir, savedFilename
	}()
	if cycle := r.cycle(file.Filename); cycle != nil {
		return r.errorf(ErrorClassInclude, "Include cycle detected: %s", strings.Join(cycle, " -> "))
	}
	r.chain = append(r.chain, file.Filename)
	defer func() { r.chain = r.chain[:len(r.chain)-1] }()

	r.workdir = workdir
	r.filename = file.Filename
	r.files = append(r.files, file.Filename)

	if included {
		spanCtx, s := r.opts.tracer.Start(ctx, "scopecfg.include")
		s.SetAttributes(attribute.String("scopecfg.file", file.Filename))
		defer s.End()
		ctx = spanCtx
		r.log.Debug().Str("file", file.Filename).Int("depth", r.Depth()).Msg("including file")
		if r.opts.observer != nil {
			r.opts.observer.Included(file.Filename)
		}
		defer func() {
			if r.err != nil {
				s.RecordError(r.err)
				s.SetStatus(codes.Error, r.err.Error())
			}
		}()
	}

	depth := r.Depth()
	if err := r.opts.executor.Exec(ctx, r, file); err != nil {
		return r.fail(err)
	}
	if r.err != nil {
		return r.err
	}
	if !included {
		return nil
	}
	for r.Depth() > depth {
		if err := r.closeTop(); err != nil {
			return r.fail(err)
		}
	}
	r.structClosed = false
	return nil
}

// cycle returns the include chain from the first execution of filename to
// filename again, or nil when filename is not being executed.
func (r *Runtime) cycle(filename string) []string {
	for i, f := range r.chain {
		if f == filename {
			cycle := append([]string{}, r.chain[i:]...)
			return append(cycle, filename)
		}
	}
	return nil
}

// resolve maps an include path to the files it names, in order.
func (r *Runtime) resolve(path string, isolated bool, root string) ([]string, error) {
	if isolated {
		if filepath.IsAbs(path) || strings.HasPrefix(path, "~") {
			return nil, NewRuntimeError(ErrorClassIsolation, r.location, "Include '%s' is not allowed in isolated mode", path)
		}
	}

	var candidates []string
	switch {
	case path == "~" || strings.HasPrefix(path, "~/"):
		candidates = []string{filepath.Join(r.opts.homeDir, path[1:])}
	case filepath.IsAbs(path):
		candidates = []string{filepath.Clean(path)}
	case isolated:
		candidate := filepath.Join(r.workdir, path)
		if !within(root, candidate) {
			return nil, NewRuntimeError(ErrorClassIsolation, r.location, "Include '%s' escapes the isolation root", path)
		}
		candidates = []string{candidate}
	default:
		candidates = []string{filepath.Join(r.workdir, path)}
		for _, dir := range r.opts.searchPaths {
			candidates = append(candidates, filepath.Join(dir, path))
		}
	}

	var files []string
	for _, candidate := range candidates {
		found, err := r.expand(candidate)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			files = found
			break
		}
	}
	if len(files) == 0 {
		return nil, NewRuntimeError(ErrorClassInclude, r.location, "Include '%s' not found", path)
	}

	if isolated {
		for _, file := range files {
			if !within(root, file) {
				return nil, NewRuntimeError(ErrorClassIsolation, r.location, "Include '%s' escapes the isolation root", path)
			}
		}
	}
	return files, nil
}

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// expand returns the regular files candidate names, expanding wildcards.
func (r *Runtime) expand(candidate string) ([]string, error) {
	if r.opts.wildcards && strings.ContainsAny(candidate, "*?[") {
		matches, err := filepath.Glob(candidate)
		if err != nil {
			return nil, NewRuntimeError(ErrorClassInclude, r.location, "Bad include pattern '%s'", candidate)
		}
		sort.Strings(matches)
		files := matches[:0]
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				files = append(files, m)
			}
		}
		return files, nil
	}
	info, err := os.Stat(candidate)
	if err != nil || !info.Mode().IsRegular() {
		return nil, nil
	}
	return []string{candidate}, nil
}
