package script

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/scopecfg/pkg/engine"
)

// Executors picks an executor by file extension, so that Starlark and HCL
// files can include each other.
type Executors struct {
	byExt    map[string]engine.Executor
	fallback engine.Executor
}

// NewExecutors returns the default set: .star and .bzl files run as
// Starlark, .hcl files as HCL, and anything else as Starlark.
func NewExecutors(logger zerolog.Logger) *Executors {
	star := NewStarlark(logger)
	return &Executors{
		byExt: map[string]engine.Executor{
			".star": star,
			".bzl":  star,
			".hcl":  NewHCL(logger),
		},
		fallback: star,
	}
}

// Register maps ext (with or without the leading dot) to e.
func (x *Executors) Register(ext string, e engine.Executor) {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	x.byExt[strings.ToLower(ext)] = e
}

// For returns the executor handling filename.
func (x *Executors) For(filename string) (engine.Executor, error) {
	if e, ok := x.byExt[strings.ToLower(filepath.Ext(filename))]; ok {
		return e, nil
	}
	if x.fallback == nil {
		return nil, fmt.Errorf("no executor for %s", filename)
	}
	return x.fallback, nil
}

// Exec implements engine.Executor.
func (x *Executors) Exec(ctx context.Context, rt *engine.Runtime, file engine.SourceFile) error {
	e, err := x.For(file.Filename)
	if err != nil {
		return err
	}
	return e.Exec(ctx, rt, file)
}
