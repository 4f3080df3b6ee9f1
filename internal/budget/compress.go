package budget

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
)

// priorityKeys are kept first when a dictionary is pruned.
var priorityKeys = []string{
	"id", "name", "key", "title", "description", "type",
	"query", "result", "error", "status", "message",
}

// parserFields are the fields of a parser result that survive compression.
var parserFields = []string{"intent", "entities", "collections", "query", "is_successful"}

// markerReserve is the encoded size, in bytes, set aside for the omission
// marker while a dictionary is filled.
const markerReserve = 48

// Compressor applies the reduction policies with a fixed set of limits.
// It holds no mutable state and is safe for concurrent use.
type Compressor struct {
	limits Limits
}

// New returns a Compressor using l, with zero fields defaulted.
func New(l Limits) *Compressor {
	return &Compressor{limits: l.WithDefaults()}
}

var std = New(DefaultLimits())

// Compress reduces payload with the default limits.
func Compress(payload any, kind Kind) any {
	return std.Compress(payload, kind)
}

// Limits returns the thresholds in effect.
func (c *Compressor) Limits() Limits { return c.limits }

// Fits reports whether payload is under the budget.
func (c *Compressor) Fits(payload any) bool {
	return Estimate(payload) < c.limits.Budget
}

// Compress returns payload unchanged when it is under budget. Otherwise it
// applies the policy for kind and, when that is not enough, wraps the text
// form of the result in a truncation envelope.
//
// Every value returned fits the budget, which makes Compress idempotent.
func (c *Compressor) Compress(payload any, kind Kind) any {
	if c.Fits(payload) {
		return payload
	}

	v, ok := generic(payload)
	if !ok {
		return c.truncateText(payload)
	}

	var out any
	switch kind {
	case KindQueryResult:
		out = c.queryResult(v)
	case KindNLParserResult:
		out = c.parserResult(v)
	default:
		out = c.reduce(v)
	}

	if c.Fits(out) {
		return out
	}
	return c.truncateText(out)
}

func (c *Compressor) reduce(v any) any {
	switch t := v.(type) {
	case []any:
		return c.list(t)
	case map[string]any:
		return c.dict(t)
	default:
		return c.truncateText(v)
	}
}

func (c *Compressor) queryResult(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return c.reduce(v)
	}

	out := maps.Clone(m)
	results, hasResults := m["results"].([]any)
	if hasResults && len(results) > c.limits.MaxResults {
		out["results"] = slices.Clone(results[:c.limits.MaxResults])
		out["truncated"] = true
		out["total_results"] = len(results)
	}

	if plan, ok := m["execution_plan"]; ok && plan != nil && Estimate(plan) > c.limits.PlanBudget {
		out["execution_plan"] = c.summarizePlan(plan)
	}

	if c.Fits(out) || !hasResults {
		return out
	}

	// Rows are still too large: prune wide rows, then keep fewer of them.
	rows, _ := out["results"].([]any)
	pruned := make([]any, len(rows))
	for i, row := range rows {
		pruned[i] = c.pruneItem(row)
	}
	out["results"] = pruned
	for !c.Fits(out) && len(pruned) > 1 {
		pruned = pruned[:len(pruned)/2]
		out["results"] = pruned
		out["truncated"] = true
		out["total_results"] = len(results)
	}
	return out
}

// summarizePlan replaces an execution plan with cost estimates, a node-type
// histogram and up to two sample nodes.
func (c *Compressor) summarizePlan(plan any) map[string]any {
	pm, _ := plan.(map[string]any)
	if inner, ok := pm["plan"].(map[string]any); ok {
		pm = inner
	}

	summary := map[string]any{"summarized": true}
	if v, ok := pm["estimatedCost"]; ok {
		summary["estimated_cost"] = v
	}
	if v, ok := pm["estimatedNrItems"]; ok {
		summary["estimated_items"] = v
	}

	nodes, _ := pm["nodes"].([]any)
	histogram := make(map[string]int)
	for _, n := range nodes {
		typ := "unknown"
		if nm, ok := n.(map[string]any); ok {
			if s, ok := nm["type"].(string); ok && s != "" {
				typ = s
			}
		}
		histogram[typ]++
	}
	summary["node_count"] = len(nodes)
	summary["node_types"] = histogram

	samples := make([]any, 0, 2)
	for _, n := range nodes[:min(2, len(nodes))] {
		samples = append(samples, c.pruneItem(n))
	}
	summary["sample_nodes"] = samples
	return summary
}

func (c *Compressor) parserResult(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return c.reduce(v)
	}

	out := make(map[string]any, len(parserFields)+2)
	kept := 0
	for _, k := range parserFields {
		if val, ok := m[k]; ok {
			out[k] = val
			kept++
		}
	}

	if schema, ok := m["schema"]; ok {
		if Estimate(schema) <= c.limits.SchemaBudget {
			out["schema"] = schema
			kept++
		} else if sm, ok := schema.(map[string]any); ok {
			out["schema"] = slices.Sorted(maps.Keys(sm))
			out["schema_truncated"] = true
			kept++
		}
	}

	if omitted := len(m) - kept; omitted > 0 {
		out[OmittedKey] = omittedNote(omitted)
	}
	return out
}

// list replaces a long list with a preview of its first items, unchanged.
// A short list, or a preview that is still too large, has its wide items
// pruned; the preview then shrinks until it fits.
func (c *Compressor) list(items []any) any {
	n := min(len(items), c.limits.ListPreview)
	if len(items) > n {
		if p := preview(items[:n], len(items)); c.Fits(p) {
			return p
		}
	}

	pruned := make([]any, n)
	for i, item := range items[:n] {
		pruned[i] = c.pruneItem(item)
	}
	if len(items) == n && c.Fits(pruned) {
		return pruned
	}
	for {
		p := preview(pruned[:n], len(items))
		if c.Fits(p) || n <= 1 {
			return p
		}
		n /= 2
	}
}

func preview(items []any, total int) map[string]any {
	return map[string]any{
		"truncated_results": slices.Clone(items),
		"total_items":       total,
		"note":              fmt.Sprintf("showing first %d of %d items", len(items), total),
	}
}

// pruneItem keeps the first MaxItemKeys keys of a wide dictionary.
func (c *Compressor) pruneItem(item any) any {
	m, ok := item.(map[string]any)
	if !ok || len(m) <= c.limits.MaxItemKeys {
		return item
	}
	keys := orderedKeys(m)
	out := make(map[string]any, c.limits.MaxItemKeys+1)
	for _, k := range keys[:c.limits.MaxItemKeys] {
		out[k] = m[k]
	}
	out[OmittedKey] = omittedNote(len(keys) - c.limits.MaxItemKeys)
	return out
}

// dict keeps the priority fields, then adds the remaining fields from the
// smallest up while they fit.
func (c *Compressor) dict(m map[string]any) any {
	out := make(map[string]any, len(m))
	for _, k := range priorityKeys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}

	type field struct {
		key  string
		size int
	}
	rest := make([]field, 0, len(m)-len(out))
	for k, v := range m {
		if _, kept := out[k]; kept {
			continue
		}
		rest = append(rest, field{key: k, size: len(encode(k)) + 1 + len(encode(v))})
	}
	slices.SortFunc(rest, func(a, b field) int {
		return cmp.Or(cmp.Compare(a.size, b.size), cmp.Compare(a.key, b.key))
	})

	limit := c.limits.Budget*4 - markerReserve
	size := len(encode(out))
	omitted := 0
	for i, f := range rest {
		// One comma per additional entry.
		next := size + f.size
		if len(out) > 0 {
			next++
		}
		if next >= limit {
			omitted = len(rest) - i
			break
		}
		out[f.key] = m[f.key]
		size = next
	}
	if omitted > 0 {
		out[OmittedKey] = omittedNote(omitted)
	}
	return out
}

// truncateText wraps the text form of payload, shortened until the envelope
// fits the budget.
func (c *Compressor) truncateText(payload any) any {
	var s string
	if str, ok := payload.(string); ok {
		s = str
	} else {
		s = string(encode(payload))
	}

	runes := []rune(s)
	keep := len(runes)
	if keep > c.limits.TextLimit {
		keep = c.limits.TextKeep
	}
	for {
		env := map[string]any{
			"truncated_result": string(runes[:keep]),
			"original_length":  len(runes),
			"note":             fmt.Sprintf("result truncated to %d of %d characters", keep, len(runes)),
		}
		if c.Fits(env) || keep == 0 {
			return env
		}
		keep = keep * 3 / 4
	}
}

// orderedKeys returns the priority keys present in m followed by the rest
// in lexical order.
func orderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for _, k := range priorityKeys {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
		}
	}
	rest := make([]string, 0, len(m)-len(keys))
	for k := range m {
		if !slices.Contains(priorityKeys, k) {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	return append(keys, rest...)
}

func omittedNote(n int) string {
	return fmt.Sprintf("%d more fields omitted", n)
}

// Envelope reports whether v is a truncation envelope produced by Compress.
func Envelope(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, a := m["truncated_result"]
	_, b := m["original_length"]
	return a && b
}
