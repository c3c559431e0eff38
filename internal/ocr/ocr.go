// Package ocr turns page images into text. Engines are selected by name at
// composition time; the fallback engine needs no native dependencies.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/joelkehle/civic-associations/internal/records"
)

// Engine recognizes the text on one page image.
type Engine interface {
	Name() string
	ProcessPage(ctx context.Context, page records.Page) (records.PageOCR, error)
}

// Options configure engine construction.
type Options struct {
	Languages []string
}

type Factory func(Options) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		FallbackName: func(Options) (Engine, error) { return FallbackEngine{}, nil },
	}
)

// Register makes an engine available to Select. Engines with native
// dependencies register themselves from their own package's init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Select constructs the named engine.
func Select(name string, opts Options) (Engine, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown OCR backend %q (available: %s)", name, strings.Join(Backends(), ", "))
	}
	return f(opts)
}

func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var ErrImageNotFound = errors.New("image not found")

// CheckImage reports ErrImageNotFound when the page image is missing.
func CheckImage(page records.Page) error {
	if _, err := os.Stat(page.ImagePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w: %s", page.PageID, ErrImageNotFound, page.ImagePath)
		}
		return fmt.Errorf("%s: %w", page.PageID, err)
	}
	return nil
}

const FallbackName = "fallback"

// FallbackEngine reads a transcription from a sidecar .txt file next to the
// image. Without one it returns empty text at zero confidence.
type FallbackEngine struct{}

func (FallbackEngine) Name() string { return FallbackName }

func (FallbackEngine) ProcessPage(ctx context.Context, page records.Page) (records.PageOCR, error) {
	if err := ctx.Err(); err != nil {
		return records.PageOCR{}, err
	}
	if err := CheckImage(page); err != nil {
		return records.PageOCR{}, err
	}
	sidecar := strings.TrimSuffix(page.ImagePath, filepath.Ext(page.ImagePath)) + ".txt"
	b, err := os.ReadFile(sidecar)
	if errors.Is(err, os.ErrNotExist) {
		return records.PageOCR{PageID: page.PageID}, nil
	}
	if err != nil {
		return records.PageOCR{}, fmt.Errorf("read transcription %s: %w", sidecar, err)
	}
	text := strings.TrimSpace(string(b))
	return records.PageOCR{
		PageID:        page.PageID,
		TextMarkdown:  ToMarkdown(text),
		TextPlain:     text,
		OCRConfidence: 1,
	}, nil
}

// ToMarkdown collapses runs of blank lines and trailing whitespace so that
// recognized text reads as markdown paragraphs.
func ToMarkdown(plain string) string {
	lines := strings.Split(strings.ReplaceAll(plain, "\r\n", "\n"), "\n")
	var out []string
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
