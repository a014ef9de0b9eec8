// Package normalize converts backend-native result objects into the
// SDK's canonical record shape.
//
// The embedded backends return typed points, the remote API returns
// JSON that may or may not wrap results in a "results" key and may call
// the text field "memory" instead of "content". All of that is absorbed
// here; no other component knows more than one shape exists.
package normalize

import (
	"encoding/json"
	"sort"

	"github.com/fyrsmithlabs/recalld/internal/filter"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// Record is the canonical shape of a memory record: id, content,
// metadata, and a similarity score present only on search results.
// Content is always a string, never null, so string-processing callers
// stay safe downstream.
type Record struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    *float32       `json:"score,omitempty"`
}

// CreatedAt returns the record's creation timestamp from metadata, or
// "" when absent.
func (r Record) CreatedAt() string {
	if v, ok := r.Metadata[filter.KeyCreatedAt].(string); ok {
		return v
	}
	return ""
}

// CreatedAtUnix returns the record's numeric creation timestamp from
// metadata, or 0 when absent.
func (r Record) CreatedAtUnix() int64 {
	switch v := r.Metadata[filter.KeyCreatedAtTS].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// FromPoint converts a stored point into a Record without a score.
func FromPoint(p vectorstore.Point) Record {
	content, metadata := splitPayload(p.Payload)
	return Record{ID: p.ID, Content: content, Metadata: metadata}
}

// FromScoredPoint converts a similarity search hit into a Record.
func FromScoredPoint(sp vectorstore.ScoredPoint) Record {
	r := FromPoint(sp.Point)
	score := sp.Score
	r.Score = &score
	return r
}

// FromPoints converts a slice of points. Never returns nil.
func FromPoints(points []vectorstore.Point) []Record {
	out := make([]Record, len(points))
	for i, p := range points {
		out[i] = FromPoint(p)
	}
	return out
}

// FromScoredPoints converts a slice of search hits. Never returns nil.
func FromScoredPoints(points []vectorstore.ScoredPoint) []Record {
	out := make([]Record, len(points))
	for i, p := range points {
		out[i] = FromScoredPoint(p)
	}
	return out
}

// FromRemote parses a remote API response body into records. Accepts
// either a bare JSON list or a {"results": [...]} wrapper; unknown
// shapes normalize to an empty list rather than an error.
func FromRemote(body []byte) []Record {
	var wrapper struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Results != nil {
		return fromRemoteItems(wrapper.Results)
	}

	var bare []json.RawMessage
	if err := json.Unmarshal(body, &bare); err == nil {
		return fromRemoteItems(bare)
	}

	return []Record{}
}

func fromRemoteItems(items []json.RawMessage) []Record {
	out := make([]Record, 0, len(items))
	for _, raw := range items {
		var item map[string]any
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		out = append(out, fromRemoteItem(item))
	}
	return out
}

// fromRemoteItem normalizes a single remote result object. The text
// field may be named "content" or "memory"; "content" wins when both
// are present.
func fromRemoteItem(item map[string]any) Record {
	r := Record{Metadata: map[string]any{}}

	if id, ok := item["id"].(string); ok {
		r.ID = id
	}
	if content, ok := item["content"].(string); ok {
		r.Content = content
	} else if mem, ok := item["memory"].(string); ok {
		r.Content = mem
	}
	if meta, ok := item["metadata"].(map[string]any); ok {
		r.Metadata = meta
	}
	if score, ok := item["score"].(float64); ok {
		s := float32(score)
		r.Score = &s
	}

	return r
}

// SortByScore orders records by score descending, ties broken by id
// ascending so the order is deterministic.
func SortByScore(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		si, sj := scoreOf(records[i]), scoreOf(records[j])
		if si != sj {
			return si > sj
		}
		return records[i].ID < records[j].ID
	})
}

// SortByTimestamp orders records by creation time descending; records
// without a timestamp sort last.
func SortByTimestamp(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := records[i].CreatedAtUnix(), records[j].CreatedAtUnix()
		if ti == 0 && tj == 0 {
			return records[i].ID < records[j].ID
		}
		if ti == 0 {
			return false
		}
		if tj == 0 {
			return true
		}
		if ti != tj {
			return ti > tj
		}
		return records[i].ID < records[j].ID
	})
}

func scoreOf(r Record) float32 {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// splitPayload separates the stored content from the metadata keys.
// The point payload carries content under "content"; everything else
// (except the internal id echo) is metadata.
func splitPayload(payload map[string]any) (string, map[string]any) {
	metadata := make(map[string]any, len(payload))
	content := ""
	for k, v := range payload {
		switch k {
		case "content":
			if s, ok := v.(string); ok {
				content = s
			}
		case "id":
			// Internal echo of the point id, not caller metadata.
		default:
			metadata[k] = v
		}
	}
	return content, metadata
}
