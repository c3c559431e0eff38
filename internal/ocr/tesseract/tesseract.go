// Package tesseract registers a gosseract-backed OCR engine under the
// "tesseract" backend name. It requires the tesseract C libraries.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/joelkehle/civic-associations/internal/ocr"
	"github.com/joelkehle/civic-associations/internal/records"
)

const Name = "tesseract"

func init() {
	ocr.Register(Name, func(opts ocr.Options) (ocr.Engine, error) {
		return NewEngine(opts.Languages), nil
	})
}

type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

func NewEngine(languages []string) *Engine {
	return &Engine{languages: languages, clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) ProcessPage(ctx context.Context, page records.Page) (records.PageOCR, error) {
	if err := ctx.Err(); err != nil {
		return records.PageOCR{}, err
	}
	if err := ocr.CheckImage(page); err != nil {
		return records.PageOCR{}, err
	}
	c := e.clientFactory()
	defer c.Close()

	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return records.PageOCR{}, fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetImage(page.ImagePath); err != nil {
		return records.PageOCR{}, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return records.PageOCR{}, fmt.Errorf("recognize %s: %w", page.PageID, err)
	}
	plain := strings.TrimSpace(text)
	return records.PageOCR{
		PageID:        page.PageID,
		TextMarkdown:  ocr.ToMarkdown(plain),
		TextPlain:     plain,
		OCRConfidence: meanWordConfidence(c),
	}, nil
}

// meanWordConfidence averages word confidences, scaled to [0,1].
func meanWordConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}
