package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/commons-data/shelter.report/internal/httputil"
)

// HTTPDetector posts frames to a vision service and decodes the candidate
// list it returns. The frame body is streamed out and nothing is kept.
type HTTPDetector struct {
	url    string
	client httputil.HTTPClient
}

// NewHTTPDetector points at a vision-service endpoint. A nil client gets a
// standard one with a 5s timeout; a slow detector must not outlive the scan
// interval by much.
func NewHTTPDetector(url string, client httputil.HTTPClient) *HTTPDetector {
	if client == nil {
		client = httputil.NewStandardClientWithTimeout(5 * time.Second)
	}
	return &HTTPDetector{url: url, client: client}
}

func (d *HTTPDetector) Detect(ctx context.Context, frame Frame) ([]Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to build detector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector returned status %d", resp.StatusCode)
	}

	var candidates []Candidate
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return nil, fmt.Errorf("failed to decode detector response: %w", err)
	}
	return candidates, nil
}
