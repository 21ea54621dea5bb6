package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp keeps the feed timestamp verbatim. Feeds send either an
// ISO-8601 string or an epoch number (milliseconds, or seconds when small).
type Timestamp string

// UnmarshalJSON accepts both JSON strings and JSON numbers.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "" || raw == "null" {
		*t = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
		return nil
	}
	if _, err := strconv.ParseFloat(raw, 64); err != nil {
		return fmt.Errorf("timestamp %s: %w", raw, ErrMalformedSnapshot)
	}
	*t = Timestamp(raw)
	return nil
}

// maxEpochMillis is 9999-12-31T23:59:59.999Z.
const maxEpochMillis = 253402300799999

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Time parses the timestamp. An empty timestamp reports ok=false with a nil error.
func (t Timestamp) Time() (ts time.Time, ok bool, err error) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return time.Time{}, false, nil
	}
	if f, perr := strconv.ParseFloat(s, 64); perr == nil {
		// Also rejects NaN and Inf.
		if !(f >= 0 && f <= maxEpochMillis) {
			return time.Time{}, false, fmt.Errorf("timestamp %q out of range: %w", s, ErrMalformedSnapshot)
		}
		// Below 1e11 the value can only be epoch seconds.
		if f < 1e11 {
			return time.UnixMilli(int64(f * 1000)).UTC(), true, nil
		}
		return time.UnixMilli(int64(f)).UTC(), true, nil
	}
	for _, layout := range timestampLayouts {
		if parsed, perr := time.Parse(layout, s); perr == nil {
			return parsed.UTC(), true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unparsable timestamp %q: %w", s, ErrMalformedSnapshot)
}

// Snapshot is the normalized full-depth record handed from the feed to the pipeline.
// Levels are [price, quantity, ...] string tuples; extra fields are ignored.
type Snapshot struct {
	Timestamp Timestamp  `json:"timestamp"`
	Exchange  string     `json:"exchange"`
	Symbol    string     `json:"symbol"`
	Asks      [][]string `json:"asks"`
	Bids      [][]string `json:"bids"`

	// ReceivedAt is stamped by the feed when the frame arrived.
	ReceivedAt time.Time `json:"-"`
}

// Reset clears the snapshot for reuse while keeping slice capacity.
func (s *Snapshot) Reset() {
	s.Timestamp = ""
	s.Exchange = ""
	s.Symbol = ""
	s.Asks = s.Asks[:0]
	s.Bids = s.Bids[:0]
	s.ReceivedAt = time.Time{}
}
