package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/kolkov/memtracer/internal/memtrace/event"
	"github.com/kolkov/memtracer/internal/memtrace/stats"
	"github.com/kolkov/memtracer/internal/memtrace/store"
)

// dumpFile mirrors the on-disk dump layout written by the tracer.
type dumpFile struct {
	Allocations []event.AllocationEvent `json:"allocations"`
}

// loadDumps reads and decodes the given dump files in parallel, then
// folds them into a fresh store and aggregator in argument order, so
// repeated invocations over the same dumps produce identical output.
func loadDumps(paths []string) (*store.Store, *stats.Aggregator, error) {
	batches := make([][]event.AllocationEvent, len(paths))

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			events, err := readDump(path)
			if err != nil {
				return err
			}
			batches[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	st := store.New()
	agg := stats.New()
	for _, events := range batches {
		st.AddBatch(events)
		agg.AddBatch(events)
	}
	return st, agg, nil
}

// readDump decodes one dump file.
func readDump(path string) ([]event.AllocationEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dump %s: %w", path, err)
	}
	var d dumpFile
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode dump %s: %w", path, err)
	}
	return d.Allocations, nil
}
