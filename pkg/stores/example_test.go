package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/scopecfg/pkg/stores"
)

// ExampleSQLiteStore_RecordRun demonstrates recording an evaluation and
// reading its snapshot back.
func ExampleSQLiteStore_RecordRun() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	now := time.Now().UTC()
	run := &stores.Run{
		ID:          "run-001",
		Script:      "/etc/app/main.star",
		Status:      stores.RunStatusSucceeded,
		StartedAt:   now,
		CompletedAt: now,
	}
	snapshot := &stores.Snapshot{
		Document:    `{"server_name":"example.org"}`,
		SourceFiles: []string{"/etc/app/main.star"},
	}

	if err := store.RecordRun(ctx, run, snapshot, nil); err != nil {
		log.Fatal(err)
	}

	got, err := store.GetSnapshot(ctx, "run-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(got.Document)
	fmt.Println(got.SourceFiles)
	// Output:
	// {"server_name":"example.org"}
	// [/etc/app/main.star]
}
