package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalList(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, nil},
		{"dedupe and sort", []string{"b", "a", "b"}, []string{"a", "b"}},
		{"trim and drop empties", []string{" x ", "", "  "}, []string{"x"}},
		{"all empty", []string{"", " "}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalList(tt.in))
		})
	}
}

func TestCanonicalJoin(t *testing.T) {
	assert.Equal(t, "a,b", CanonicalJoin([]string{"b", "a", "b"}))
	assert.Equal(t, "", CanonicalJoin(nil))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList("b,a"))
	assert.Equal(t, []string{"a", "b"}, SplitList([]string{"a", "b"}))
	assert.Equal(t, []string{"a"}, SplitList([]any{"a", 42}))
	assert.Nil(t, SplitList(42))
}

func TestBuildMetadata(t *testing.T) {
	fixed := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return fixed }
	defer func() { timeNow = time.Now }()

	t.Run("full selectors", func(t *testing.T) {
		payload := BuildMetadata(Selectors{
			UserID: "u1",
			Tags:   []string{"b", "a"},
			People: []string{"alice"},
			Topic:  "food",
		}, nil)

		assert.Equal(t, "u1", payload[KeyUserID])
		assert.Equal(t, "a,b", payload[KeyTags])
		assert.Equal(t, "alice", payload[KeyPeople])
		assert.Equal(t, "food", payload[KeyTopic])
		assert.Equal(t, fixed.Format(time.RFC3339), payload[KeyCreatedAt])
		assert.Equal(t, fixed.Unix(), payload[KeyCreatedAtTS])
	})

	t.Run("empty selectors omitted", func(t *testing.T) {
		payload := BuildMetadata(Selectors{UserID: "u1"}, nil)
		_, hasTags := payload[KeyTags]
		_, hasPeople := payload[KeyPeople]
		_, hasTopic := payload[KeyTopic]
		assert.False(t, hasTags)
		assert.False(t, hasPeople)
		assert.False(t, hasTopic)
	})

	t.Run("extras merged but cannot overwrite", func(t *testing.T) {
		payload := BuildMetadata(Selectors{UserID: "u1"}, map[string]any{
			"source":  "chat",
			KeyUserID: "attacker",
		})
		assert.Equal(t, "chat", payload["source"])
		assert.Equal(t, "u1", payload[KeyUserID])
	})

	t.Run("round trips through Build", func(t *testing.T) {
		payload := BuildMetadata(Selectors{
			UserID: "u1",
			Tags:   []string{"x", "y"},
		}, nil)
		f := Build(Selectors{UserID: "u1", Tags: []string{"y"}})
		require.NotNil(t, f)
		assert.True(t, f.Matches(payload))
	})
}
