package jsonl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Read decodes every record in a newline-delimited JSON file.
func Read[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode[T](f)
}

// Decode reads newline-delimited JSON records until EOF. Blank lines are skipped.
func Decode[T any](r io.Reader) ([]T, error) {
	dec := json.NewDecoder(r)
	var out []T
	for line := 1; ; line++ {
		var v T
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("record %d: %w", line, err)
		}
		out = append(out, v)
	}
}

// Write replaces path with one JSON object per line, creating parent directories.
func Write[T any](path string, items []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := Encode(f, items); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Encode writes items as newline-delimited JSON.
func Encode[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return err
		}
	}
	return nil
}

// Appender appends records to a newline-delimited JSON file. It is safe for
// concurrent use; each record is written with a single write call.
type Appender[T any] struct {
	path string
	mu   sync.Mutex
	n    int
}

func NewAppender[T any](path string) *Appender[T] {
	return &Appender[T]{path: path}
}

func (a *Appender[T]) Path() string { return a.path }

// Count reports how many records this appender has written.
func (a *Appender[T]) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

func (a *Appender[T]) Append(v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.n++
	return nil
}

// Reset truncates the file to empty, creating it if needed, and zeroes Count.
func (a *Appender[T]) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(a.path, nil, 0o644); err != nil {
		return err
	}
	a.n = 0
	return nil
}
