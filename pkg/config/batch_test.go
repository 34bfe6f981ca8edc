package config

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

func TestEvaluator_EvaluateAll(t *testing.T) {
	files := map[string]string{"markup.yaml": testMarkup}
	for i := 0; i < 6; i++ {
		files[fmt.Sprintf("site%d.star", i)] = fmt.Sprintf("server_name(\"site-%d\")\nlisten(%d)\n", i, 8000+i)
	}
	files["broken.star"] = `listen(1)`
	dir := writeFiles(t, files)

	ev, err := NewEvaluator(WithStore(setupTestStore(t)))
	if err != nil {
		t.Fatal(err)
	}

	var batch []EvaluateOptions
	for i := 0; i < 6; i++ {
		batch = append(batch, EvaluateOptions{
			Script:     filepath.Join(dir, fmt.Sprintf("site%d.star", i)),
			MarkupPath: filepath.Join(dir, "markup.yaml"),
		})
	}
	batch = append(batch, EvaluateOptions{
		Script:     filepath.Join(dir, "broken.star"),
		MarkupPath: filepath.Join(dir, "markup.yaml"),
	})

	tests := []struct {
		name        string
		opts        BatchOptions
		wantResults int
	}{
		{name: "default workers", opts: BatchOptions{}, wantResults: 6},
		{name: "single worker", opts: BatchOptions{MaxParallel: 1}, wantResults: 6},
		{name: "more workers than entries", opts: BatchOptions{MaxParallel: 32}, wantResults: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := ev.EvaluateAll(context.Background(), batch, tt.opts)
			if len(results) != len(batch) {
				t.Fatalf("got %d results, want %d", len(results), len(batch))
			}

			var ok int
			for i, r := range results {
				if r.Options.Script != batch[i].Script {
					t.Errorf("result %d out of order: %s", i, r.Options.Script)
				}
				if r.Err == nil && r.Result != nil {
					ok++
					want := fmt.Sprintf("site-%d", i)
					if r.Result.Document["server_name"] != want {
						t.Errorf("result %d server_name = %v, want %s", i, r.Result.Document["server_name"], want)
					}
				}
			}
			if ok != tt.wantResults {
				t.Errorf("got %d successful results, want %d", ok, tt.wantResults)
			}
			if results[len(results)-1].Err == nil {
				t.Error("expected the broken script to fail")
			}
		})
	}
}

func TestEvaluator_EvaluateAllFailFast(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"markup.yaml": testMarkup,
		"broken.star": `listen(1)`,
		"ok.star":     `server_name("edge")`,
	})
	ev, err := NewEvaluator()
	if err != nil {
		t.Fatal(err)
	}

	batch := []EvaluateOptions{
		{Script: filepath.Join(dir, "broken.star"), MarkupPath: filepath.Join(dir, "markup.yaml")},
		{Script: filepath.Join(dir, "ok.star"), MarkupPath: filepath.Join(dir, "markup.yaml")},
		{Script: filepath.Join(dir, "ok.star"), MarkupPath: filepath.Join(dir, "markup.yaml")},
	}

	results := ev.EvaluateAll(context.Background(), batch, BatchOptions{MaxParallel: 1, FailFast: true})
	if results[0].Err == nil {
		t.Fatal("expected the first evaluation to fail")
	}
	for i, r := range results[1:] {
		if !r.Skipped {
			t.Errorf("result %d was not skipped", i+1)
		}
	}

	if got := ev.EvaluateAll(context.Background(), nil, BatchOptions{}); len(got) != 0 {
		t.Errorf("empty batch returned %d results", len(got))
	}
}
