package filter

import (
	"sort"
	"strings"
	"time"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// CanonicalList trims, de-duplicates, and sorts a list of values,
// dropping empties. The stable order makes the canonical comma-joined
// storage form deterministic.
func CanonicalList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// CanonicalJoin returns the canonical comma-joined storage form of a
// list-valued field.
func CanonicalJoin(values []string) string {
	return strings.Join(CanonicalList(values), ",")
}

// SplitList accepts either the canonical comma-joined string or a
// caller-supplied list and returns the canonical list form.
func SplitList(val any) []string {
	switch v := val.(type) {
	case string:
		return CanonicalList(strings.Split(v, ","))
	case []string:
		return CanonicalList(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return CanonicalList(parts)
	default:
		return nil
	}
}

// BuildMetadata builds the storage payload for a new memory record.
// user_id is always set; empty selectors are omitted rather than stored
// as empty strings. List-valued fields are stored in canonical
// comma-joined form. Caller-supplied extras are merged in but cannot
// overwrite the selector-derived keys.
func BuildMetadata(sel Selectors, extra map[string]any) map[string]any {
	now := timeNow().UTC()

	payload := make(map[string]any, len(extra)+8)
	for k, v := range extra {
		payload[k] = v
	}

	payload[KeyUserID] = sel.UserID
	if sel.AgentID != "" {
		payload[KeyAgentID] = sel.AgentID
	}
	if sel.RunID != "" {
		payload[KeyRunID] = sel.RunID
	}
	if sel.Topic != "" {
		payload[KeyTopic] = sel.Topic
	}
	if tags := CanonicalJoin(sel.Tags); tags != "" {
		payload[KeyTags] = tags
	}
	if people := CanonicalJoin(sel.People); people != "" {
		payload[KeyPeople] = people
	}
	payload[KeyCreatedAt] = now.Format(time.RFC3339)
	payload[KeyCreatedAtTS] = now.Unix()

	return payload
}
