package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	models "github.com/Schera-ole/trainkit/internal/model"
)

// File appends observations to a file as JSON lines.
type File struct {
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

// NewFile opens (or creates) path for appending.
func NewFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open sink file %s: %w", path, err)
	}
	return &File{file: f, now: time.Now}, nil
}

// Record writes one JSON line.
func (f *File) Record(name string, value float64) error {
	data, err := json.Marshal(models.SinkEvent{
		TS:     f.now().Format(time.RFC3339Nano),
		Metric: name,
		Value:  value,
	})
	if err != nil {
		return fmt.Errorf("marshal sink event: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write sink event: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}
