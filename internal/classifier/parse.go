package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"jobinbox/internal/taxonomy"
)

const (
	// DefaultCategory and DefaultConfidence are assigned whenever a reply
	// cannot be trusted for a message.
	DefaultCategory   = taxonomy.StatusUpdate
	DefaultConfidence = 0.3
)

type rawResult struct {
	Email        *looseNumber `json:"email"`
	Category     string       `json:"category"`
	Confidence   *looseNumber `json:"confidence"`
	Company      interface{}  `json:"company"`
	ActionNeeded interface{}  `json:"action_needed"`

	// invalid marks an entry that could not be decoded; it keeps its position.
	invalid bool
}

// looseNumber accepts 0.9 as well as "0.9".
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*n = looseNumber(v)
	return nil
}

// index returns the 1-based entry index when it is a whole number.
func (r rawResult) index() (int, bool) {
	if r.Email == nil {
		return 0, false
	}
	v := float64(*r.Email)
	if v != math.Trunc(v) {
		return 0, false
	}
	return int(v), true
}

// ParseResponse decodes a provider reply into exactly n results.
// Entries are matched by their 1-based "email" field, falling back to
// position when the field is absent. Missing or invalid entries become the
// default result. Only an undecodable reply is an error.
func ParseResponse(text string, n int) ([]Result, int, error) {
	raws, err := decodeList(stripFences(text))
	if err != nil {
		return nil, 0, err
	}

	byIndex := make(map[int]rawResult, len(raws))
	for _, r := range raws {
		if idx, ok := r.index(); ok {
			if _, dup := byIndex[idx]; !dup {
				byIndex[idx] = r
			}
		}
	}

	out := make([]Result, n)
	defaulted := 0
	for i := 0; i < n; i++ {
		raw, ok := byIndex[i+1]
		if !ok && i < len(raws) && raws[i].Email == nil {
			raw, ok = raws[i], true
		}
		res, valid := toResult(raw)
		if !ok || !valid {
			res = defaultResult("")
			defaulted++
		}
		out[i] = res
	}
	return out, defaulted, nil
}

func toResult(r rawResult) (Result, bool) {
	if r.invalid {
		return Result{}, false
	}
	category, err := taxonomy.Parse(r.Category)
	if err != nil {
		return Result{}, false
	}
	confidence := DefaultConfidence
	if r.Confidence != nil {
		confidence = clamp01(float64(*r.Confidence))
	}
	return Result{
		Category:     category,
		Confidence:   confidence,
		Company:      optionalString(r.Company),
		ActionNeeded: optionalString(r.ActionNeeded),
	}, true
}

func defaultResult(marker string) Result {
	return Result{
		Category:   DefaultCategory,
		Confidence: DefaultConfidence,
		Error:      marker,
	}
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeList accepts a bare array or an object holding exactly one array field.
// Entries are decoded one by one so a bad entry only invalidates itself.
func decodeList(s string) ([]rawResult, error) {
	data := []byte(s)
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}

	if trimmed[0] == '{' {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		var arrays []json.RawMessage
		for _, v := range wrapper {
			if v = bytes.TrimSpace(v); len(v) > 0 && v[0] == '[' {
				arrays = append(arrays, v)
			}
		}
		if len(arrays) != 1 {
			return nil, fmt.Errorf("%w: object without a single result list", ErrMalformedResponse)
		}
		trimmed = arrays[0]
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	raws := make([]rawResult, len(elems))
	for i, e := range elems {
		if err := json.Unmarshal(e, &raws[i]); err != nil {
			raws[i] = rawResult{invalid: true}
		}
	}
	return raws, nil
}

func optionalString(v interface{}) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

func clamp01(v float64) float64 {
	if v != v || v < 0 { // NaN or negative
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
