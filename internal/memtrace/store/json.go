package store

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/exp/mmap"

	"github.com/kolkov/memtracer/internal/memtrace/event"
	"github.com/kolkov/memtracer/internal/memtrace/logger"
)

// dumpFile is the on-disk dump format: a single object wrapping the
// event array.
type dumpFile struct {
	Allocations []event.AllocationEvent `json:"allocations"`
}

// ExportJSON writes the full log, freed entries included, to path.
// Failures are logged, not returned; the boolean reports success.
func (s *Store) ExportJSON(path string) bool {
	if err := s.exportJSON(path); err != nil {
		logger.Errorf("export to %s failed: %v", path, err)
		return false
	}
	return true
}

func (s *Store) exportJSON(path string) error {
	s.mu.Lock()
	dump := dumpFile{Allocations: make([]event.AllocationEvent, len(s.entries))}
	copy(dump.Allocations, s.entries)
	s.mu.Unlock()

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	logger.Infof("exported %d allocation records to %s", len(dump.Allocations), path)
	return nil
}

// ImportJSON loads a dump produced by ExportJSON, appending its events
// to the log in file order. Indices and the liveness map are rebuilt
// through the normal insert path, so importing into an empty store
// reconstructs the exporting store exactly. Failures are logged, not
// returned.
func (s *Store) ImportJSON(path string) bool {
	if err := s.importJSON(path); err != nil {
		logger.Errorf("import from %s failed: %v", path, err)
		return false
	}
	return true
}

func (s *Store) importJSON(path string) error {
	// Dumps from long traces run to hundreds of megabytes; map the file
	// instead of slurping it through the page cache twice.
	r, err := mmap.Open(path)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	defer r.Close()

	buf := make([]byte, r.Len())
	if _, err := r.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("read dump: %w", err)
	}

	var dump dumpFile
	if err := json.Unmarshal(buf, &dump); err != nil {
		return fmt.Errorf("decode dump: %w", err)
	}

	s.mu.Lock()
	for _, ev := range dump.Allocations {
		s.add(ev)
	}
	s.mu.Unlock()

	logger.Infof("imported %d allocation records from %s", len(dump.Allocations), path)
	return nil
}
