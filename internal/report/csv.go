package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CSVSink appends records to a CSV file, writing the header once when the
// file is new or empty.
type CSVSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	path string
}

// OpenCSV opens (or creates) path for appending.
func OpenCSV(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create report dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat report: %w", err)
	}

	s := &CSVSink{f: f, w: csv.NewWriter(f), path: path}
	if st.Size() == 0 {
		if err := s.flush(Columns); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Write appends one row and flushes it to disk.
func (s *CSVSink) Write(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush(r.Row())
}

func (s *CSVSink) flush(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// Close closes the file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
