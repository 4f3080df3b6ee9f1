// Package budget keeps payloads returned to the model under an approximate
// token budget.
//
// Size is estimated as the length of the JSON encoding divided by four.
// Every threshold in Limits is expressed in that unit, so the estimator must
// not be swapped for a real tokenizer without re-deriving them.
package budget

import (
	"encoding/json"
	"fmt"
)

// Kind selects the reduction policy applied to an oversized payload.
type Kind int

// Payload kinds.
const (
	KindGeneric Kind = iota
	KindQueryResult
	KindNLParserResult
)

func (k Kind) String() string {
	switch k {
	case KindQueryResult:
		return "query_result"
	case KindNLParserResult:
		return "nl_parser_result"
	default:
		return "generic"
	}
}

// OmittedKey is the map key under which pruned dictionaries record how
// many fields were dropped.
const OmittedKey = "…"

// Limits holds every threshold used by the compressor.
type Limits struct {
	// Budget is the token ceiling for a whole payload.
	Budget int `yaml:"budget"`

	// MaxResults is the number of query result rows kept.
	MaxResults int `yaml:"max_results"`

	// PlanBudget is the size above which an execution plan is summarized.
	PlanBudget int `yaml:"plan_budget"`

	// SchemaBudget is the size above which a parser schema is reduced to
	// its key names.
	SchemaBudget int `yaml:"schema_budget"`

	// ListPreview is the number of items kept when a generic list is
	// replaced by a preview.
	ListPreview int `yaml:"list_preview"`

	// MaxItemKeys is the number of keys kept per oversized list item.
	MaxItemKeys int `yaml:"max_item_keys"`

	// TextLimit and TextKeep drive the last-resort string truncation, in
	// characters.
	TextLimit int `yaml:"text_limit"`
	TextKeep  int `yaml:"text_keep"`
}

// DefaultLimits returns the stock thresholds.
func DefaultLimits() Limits {
	return Limits{
		Budget:       4000,
		MaxResults:   50,
		PlanBudget:   1000,
		SchemaBudget: 2000,
		ListPreview:  20,
		MaxItemKeys:  10,
		TextLimit:    16000,
		TextKeep:     15000,
	}
}

// WithDefaults fills zero fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.Budget <= 0 {
		l.Budget = d.Budget
	}
	if l.MaxResults <= 0 {
		l.MaxResults = d.MaxResults
	}
	if l.PlanBudget <= 0 {
		l.PlanBudget = d.PlanBudget
	}
	if l.SchemaBudget <= 0 {
		l.SchemaBudget = d.SchemaBudget
	}
	if l.ListPreview <= 0 {
		l.ListPreview = d.ListPreview
	}
	if l.MaxItemKeys <= 0 {
		l.MaxItemKeys = d.MaxItemKeys
	}
	if l.TextLimit <= 0 {
		l.TextLimit = d.TextLimit
	}
	if l.TextKeep <= 0 || l.TextKeep > l.TextLimit {
		l.TextKeep = min(d.TextKeep, l.TextLimit)
	}
	return l
}

// Estimate returns the approximate token count of payload.
func Estimate(payload any) int {
	return len(encode(payload)) / 4
}

// encode returns the JSON form of payload, or its fmt form when payload
// cannot be marshalled.
func encode(payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Appendf(nil, "%v", payload)
	}
	return data
}

// generic converts payload to the shapes produced by encoding/json
// decoding into an any. ok is false when payload is not JSON-encodable.
func generic(payload any) (v any, ok bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false
	}
	return v, true
}
