package threat

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// fileReport is the subset of the provider's file object that we consume.
type fileReport struct {
	Data *struct {
		Attributes *struct {
			LastAnalysisStats map[string]json.RawMessage `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// Normalize extracts data.attributes.last_analysis_stats from a provider
// payload. Every RequiredCategories key must be present with a non-negative
// integer value; optional categories must satisfy the same rule if present.
// Any violation yields ErrMalformedPayload and no stats.
func Normalize(payload []byte) (Stats, error) {
	var report fileReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if report.Data == nil || report.Data.Attributes == nil || report.Data.Attributes.LastAnalysisStats == nil {
		return nil, fmt.Errorf("%w: missing data.attributes.last_analysis_stats", ErrMalformedPayload)
	}

	raw := report.Data.Attributes.LastAnalysisStats
	for _, key := range RequiredCategories {
		if _, ok := raw[key]; !ok {
			return nil, fmt.Errorf("%w: missing category %q", ErrMalformedPayload, key)
		}
	}

	stats := make(Stats, len(raw))
	for key, val := range raw {
		n, err := decodeCount(val)
		if err != nil {
			return nil, fmt.Errorf("%w: category %q: %v", ErrMalformedPayload, key, err)
		}
		stats[key] = n
	}
	return stats, nil
}

func decodeCount(val json.RawMessage) (int, error) {
	if bytes.Equal(bytes.TrimSpace(val), []byte("null")) {
		return 0, fmt.Errorf("null count")
	}
	var n int
	if err := json.Unmarshal(val, &n); err != nil {
		return 0, fmt.Errorf("not an integer: %s", val)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return n, nil
}
