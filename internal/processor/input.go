/**
 * Provider input types
 *
 * Positioned text elements as delivered by the upstream document OCR
 * provider, and their conversion into validated fragments.
 */

package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adverant/nexus/tableprocess-worker/internal/spatial"
)

// RawElement is one provider text element. Bounds is [x, y, width, height].
// A missing page defaults to 1.
type RawElement struct {
	Text   string    `json:"Text"`
	Page   *int      `json:"Page,omitempty"`
	Bounds []float64 `json:"Bounds"`
	Font   *RawFont  `json:"Font,omitempty"`
}

// RawFont is the optional font metadata of an element
type RawFont struct {
	Size float64 `json:"size"`
	Name string  `json:"name"`
}

// IngestStats counts accepted elements and dropped ones by reason
type IngestStats struct {
	Accepted      int `json:"accepted"`
	EmptyText     int `json:"emptyText"`
	ShortBounds   int `json:"shortBounds"`
	InvalidPage   int `json:"invalidPage"`
	DegenerateBox int `json:"degenerateBox"`
}

// Dropped returns the number of rejected elements
func (s IngestStats) Dropped() int {
	return s.EmptyText + s.ShortBounds + s.InvalidPage + s.DegenerateBox
}

// DecodeElements parses provider JSON: either a bare element array or an
// object with an "elements" array.
func DecodeElements(data []byte) ([]RawElement, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty element payload")
	}

	if trimmed[0] == '[' {
		var elements []RawElement
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return nil, fmt.Errorf("failed to decode element array: %w", err)
		}
		return elements, nil
	}

	var wrapped struct {
		Elements []RawElement `json:"elements"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode element document: %w", err)
	}
	return wrapped.Elements, nil
}

// Ingest converts raw elements into fragments. Noisy records are filtered and
// counted, never raised: provider output routinely contains them.
func Ingest(elements []RawElement) ([]spatial.TextFragment, IngestStats) {
	var stats IngestStats
	fragments := make([]spatial.TextFragment, 0, len(elements))

	for _, e := range elements {
		if strings.TrimSpace(e.Text) == "" {
			stats.EmptyText++
			continue
		}
		if len(e.Bounds) < 4 {
			stats.ShortBounds++
			continue
		}
		page := 1
		if e.Page != nil {
			page = *e.Page
		}
		if page < 1 {
			stats.InvalidPage++
			continue
		}

		var size float64
		var name string
		if e.Font != nil {
			size, name = e.Font.Size, e.Font.Name
		}

		f, err := spatial.NewTextFragment(e.Text, page,
			e.Bounds[0], e.Bounds[1], e.Bounds[2], e.Bounds[3], size, name)
		if err != nil {
			stats.DegenerateBox++
			continue
		}
		fragments = append(fragments, f)
		stats.Accepted++
	}

	return fragments, stats
}
