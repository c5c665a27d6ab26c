// Package ocr reads number plates from cropped plate images.
package ocr

import (
	"context"
	"strings"

	"github.com/bmharper/cimg/v2"
)

// Candidate is one piece of text found by the OCR engine
type Candidate struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result of reading a plate. Text is empty if nothing plate-like was found.
type Result struct {
	Text       string
	RawText    string
	Confidence float64
}

// Reader extracts plate text from an image
type Reader interface {
	ReadPlate(ctx context.Context, plate *cimg.Image) (Result, error)
}

// CleanPlateText normalizes OCR text into a plate-like string.
// Letters are uppercased, and everything other than A-Z and 0-9 is removed.
func CleanPlateText(text string) string {
	text = strings.ToUpper(text)
	var b strings.Builder
	for _, c := range text {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// Best returns the highest confidence candidate that still has text after cleaning.
// Ties go to the earlier candidate.
func Best(candidates []Candidate) Result {
	best := Result{}
	for _, c := range candidates {
		cleaned := CleanPlateText(c.Text)
		if cleaned == "" {
			continue
		}
		if c.Confidence > best.Confidence || best.Text == "" {
			best = Result{
				Text:       cleaned,
				RawText:    c.Text,
				Confidence: c.Confidence,
			}
		}
	}
	return best
}

// IsLowConfidence is true for readings that should be flagged for human review
func IsLowConfidence(r Result, minConfidence float64) bool {
	return r.Confidence < minConfidence
}

// NullReader is used when no OCR service is configured. It never finds any text.
type NullReader struct{}

func (NullReader) ReadPlate(ctx context.Context, plate *cimg.Image) (Result, error) {
	return Result{}, nil
}
