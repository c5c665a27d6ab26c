package ocr

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/www"
)

// DefaultTimeout for a single plate read
const DefaultTimeout = 10 * time.Second

// HTTPReader posts a JPEG of the plate to an OCR service.
// The service must respond with {"results": [{"text": "...", "confidence": 0.9}, ...]}
type HTTPReader struct {
	URL     string
	Timeout time.Duration
}

type httpResponse struct {
	Results []Candidate `json:"results"`
}

func NewHTTPReader(url string) *HTTPReader {
	return &HTTPReader{
		URL:     url,
		Timeout: DefaultTimeout,
	}
}

func (h *HTTPReader) ReadPlate(ctx context.Context, plate *cimg.Image) (Result, error) {
	jpg, err := cimg.Compress(plate, cimg.MakeCompressParams(cimg.Sampling(cimg.Sampling444), 95, cimg.Flags(0)))
	if err != nil {
		return Result{}, fmt.Errorf("Failed to compress plate image: %w", err)
	}
	if h.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, "POST", h.URL, bytes.NewReader(jpg))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	resp := httpResponse{}
	if err := www.FetchJSON(req, &resp); err != nil {
		return Result{}, fmt.Errorf("OCR request failed: %w", err)
	}
	return Best(resp.Results), nil
}
