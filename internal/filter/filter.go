// Package filter translates high-level memory selectors into a
// backend-agnostic filter model and into storage payloads.
//
// The filter model is deliberately small: a conjunction of per-field
// conditions. Each vector store adapter translates the conditions it can
// evaluate natively and uses Matches to evaluate the rest.
package filter

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Payload keys written by BuildMetadata and understood by Build.
const (
	KeyUserID    = "user_id"
	KeyAgentID   = "agent_id"
	KeyRunID     = "run_id"
	KeyTags      = "tags"
	KeyPeople    = "people_mentioned"
	KeyTopic     = "topic_category"
	KeyCreatedAt = "created_at"

	// KeyCreatedAtTS is the numeric companion of KeyCreatedAt (epoch
	// seconds), used for time-range conditions.
	KeyCreatedAtTS = "created_at_ts"
)

// TimeRange bounds a query by creation time. A zero Start or End leaves
// that side unbounded.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether both bounds are unset.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Selectors are the high-level query/write selectors accepted by the
// memory facade. The zero value selects nothing.
type Selectors struct {
	UserID       string
	AgentID      string
	RunID        string
	Tags         []string
	MatchAllTags bool
	People       []string
	Topic        string
	TimeRange    *TimeRange
}

// Range holds inclusive numeric bounds. A nil bound is unbounded.
type Range struct {
	GTE *float64
	LTE *float64
}

// Condition constrains a single payload field. Exactly one of Equals,
// Any, All, or Range is set.
type Condition struct {
	// Field is the payload key the condition applies to.
	Field string

	// Equals requires an exact string match.
	Equals string

	// Any requires at least one of the values to appear in the field's
	// token list (OR-of-equality).
	Any []string

	// All requires every value to appear in the field's token list
	// (AND-of-equality).
	All []string

	// Range requires the field's numeric value to fall within bounds.
	Range *Range
}

// Filter is a conjunction of conditions. A nil *Filter means
// unrestricted. Conditions are kept sorted by field name so the output
// is stable across calls.
type Filter struct {
	Conditions []Condition
}

// Build translates selectors into a Filter. Returns nil when no
// selector is supplied; callers must not rely on a nil filter for
// tenant isolation. An empty list-valued selector produces no condition
// for that field.
func Build(sel Selectors) *Filter {
	var conds []Condition

	if sel.UserID != "" {
		conds = append(conds, Condition{Field: KeyUserID, Equals: sel.UserID})
	}
	if sel.AgentID != "" {
		conds = append(conds, Condition{Field: KeyAgentID, Equals: sel.AgentID})
	}
	if sel.RunID != "" {
		conds = append(conds, Condition{Field: KeyRunID, Equals: sel.RunID})
	}
	if sel.Topic != "" {
		conds = append(conds, Condition{Field: KeyTopic, Equals: sel.Topic})
	}
	if tags := CanonicalList(sel.Tags); len(tags) > 0 {
		c := Condition{Field: KeyTags}
		if sel.MatchAllTags {
			c.All = tags
		} else {
			c.Any = tags
		}
		conds = append(conds, c)
	}
	if people := CanonicalList(sel.People); len(people) > 0 {
		conds = append(conds, Condition{Field: KeyPeople, Any: people})
	}
	if sel.TimeRange != nil && !sel.TimeRange.IsZero() {
		r := &Range{}
		if !sel.TimeRange.Start.IsZero() {
			v := float64(sel.TimeRange.Start.Unix())
			r.GTE = &v
		}
		if !sel.TimeRange.End.IsZero() {
			v := float64(sel.TimeRange.End.Unix())
			r.LTE = &v
		}
		conds = append(conds, Condition{Field: KeyCreatedAtTS, Range: r})
	}

	if len(conds) == 0 {
		return nil
	}

	// Conjunction is commutative, but a stable order keeps the output
	// deterministic for callers and tests.
	sort.Slice(conds, func(i, j int) bool { return conds[i].Field < conds[j].Field })

	return &Filter{Conditions: conds}
}

// Equality returns the subset of conditions that are plain equality
// matches, as a field-to-value map. These are the conditions every
// backend can evaluate natively.
func (f *Filter) Equality() map[string]string {
	if f == nil {
		return nil
	}
	var out map[string]string
	for _, c := range f.Conditions {
		if c.Equals == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[c.Field] = c.Equals
	}
	return out
}

// Residual returns the conditions not covered by the given set of
// natively-evaluated fields. Adapters apply the residual via Matches.
func (f *Filter) Residual(native map[string]bool) []Condition {
	if f == nil {
		return nil
	}
	var out []Condition
	for _, c := range f.Conditions {
		if c.Equals != "" && native[c.Field] {
			continue
		}
		if c.Range != nil && native[c.Field] {
			continue
		}
		if c.Equals != "" || c.Range != nil || len(c.Any) > 0 || len(c.All) > 0 {
			if !native[c.Field] {
				out = append(out, c)
			}
		}
	}
	return out
}

// Matches evaluates the full conjunction against a payload map.
// A nil filter matches everything.
func (f *Filter) Matches(payload map[string]any) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Conditions {
		if !matchCondition(c, payload) {
			return false
		}
	}
	return true
}

// MatchConditions evaluates a condition subset against a payload map.
func MatchConditions(conds []Condition, payload map[string]any) bool {
	for _, c := range conds {
		if !matchCondition(c, payload) {
			return false
		}
	}
	return true
}

func matchCondition(c Condition, payload map[string]any) bool {
	val, ok := payload[c.Field]
	switch {
	case c.Equals != "":
		return ok && stringValue(val) == c.Equals
	case len(c.Any) > 0:
		if !ok {
			return false
		}
		tokens := tokenSet(val)
		for _, want := range c.Any {
			if tokens[want] {
				return true
			}
		}
		return false
	case len(c.All) > 0:
		if !ok {
			return false
		}
		tokens := tokenSet(val)
		for _, want := range c.All {
			if !tokens[want] {
				return false
			}
		}
		return true
	case c.Range != nil:
		if !ok {
			return false
		}
		n, numeric := numericValue(val)
		if !numeric {
			return false
		}
		if c.Range.GTE != nil && n < *c.Range.GTE {
			return false
		}
		if c.Range.LTE != nil && n > *c.Range.LTE {
			return false
		}
		return true
	}
	return true
}

// tokenSet interprets a payload value as a token list: either a
// comma-joined string (the canonical storage form) or a native list.
func tokenSet(val any) map[string]bool {
	set := make(map[string]bool)
	switch v := val.(type) {
	case string:
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				set[tok] = true
			}
		}
	case []string:
		for _, tok := range v {
			if tok = strings.TrimSpace(tok); tok != "" {
				set[tok] = true
			}
		}
	case []any:
		for _, item := range v {
			if tok := strings.TrimSpace(stringValue(item)); tok != "" {
				set[tok] = true
			}
		}
	}
	return set
}

func stringValue(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func numericValue(val any) (float64, bool) {
	switch v := val.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
