package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestEntityFrame_Merge(t *testing.T) {
	t.Run("set kinds overwrite, unset kinds survive", func(t *testing.T) {
		frame := EntityFrame{
			GovernmentNumber: intPtr(36),
			Topic:            "חינוך",
			Limit:            5,
		}
		frame.Merge(EntityFrame{GovernmentNumber: intPtr(37)})

		assert.Equal(t, 37, *frame.GovernmentNumber)
		assert.Equal(t, "חינוך", frame.Topic)
		assert.Equal(t, 5, frame.Limit)
	})

	t.Run("empty delta changes nothing", func(t *testing.T) {
		frame := EntityFrame{Topic: "בריאות", Ministries: []string{"משרד הבריאות"}}
		frame.Merge(EntityFrame{})

		assert.Equal(t, "בריאות", frame.Topic)
		assert.Equal(t, []string{"משרד הבריאות"}, frame.Ministries)
	})

	t.Run("merged pointers are independent of the delta", func(t *testing.T) {
		delta := EntityFrame{DecisionNumber: intPtr(2983)}
		var frame EntityFrame
		frame.Merge(delta)

		*delta.DecisionNumber = 1
		assert.Equal(t, 2983, *frame.DecisionNumber)
	})
}

func TestEntityFrame_Clone(t *testing.T) {
	orig := EntityFrame{
		DecisionNumber: intPtr(2983),
		Ministries:     []string{"משרד החינוך"},
		DateRange:      &DateRange{Start: "2023-01-01"},
	}
	clone := orig.Clone()

	*clone.DecisionNumber = 1
	clone.Ministries[0] = "אחר"
	clone.DateRange.Start = "2024-01-01"

	assert.Equal(t, 2983, *orig.DecisionNumber)
	assert.Equal(t, "משרד החינוך", orig.Ministries[0])
	assert.Equal(t, "2023-01-01", orig.DateRange.Start)
}

func TestEntityFrame_Extends(t *testing.T) {
	base := EntityFrame{GovernmentNumber: intPtr(37), Topic: "חינוך"}

	t.Run("adding a constraint extends", func(t *testing.T) {
		narrowed := base.Clone()
		narrowed.Ministries = []string{"משרד החינוך"}
		assert.True(t, narrowed.Extends(base))
	})

	t.Run("contradicting a value does not extend", func(t *testing.T) {
		changed := base.Clone()
		changed.Topic = "בריאות"
		assert.False(t, changed.Extends(base))
	})

	t.Run("dropping a value does not extend", func(t *testing.T) {
		dropped := EntityFrame{GovernmentNumber: intPtr(37)}
		assert.False(t, dropped.Extends(base))
	})

	t.Run("anything extends the empty frame", func(t *testing.T) {
		assert.True(t, base.Extends(EntityFrame{}))
	})
}

func TestEntityFrame_CanonicalPairs(t *testing.T) {
	t.Run("deterministic regardless of ministry order", func(t *testing.T) {
		a := EntityFrame{GovernmentNumber: intPtr(37), Ministries: []string{"ב", "א"}}
		b := EntityFrame{GovernmentNumber: intPtr(37), Ministries: []string{"א", "ב"}}
		assert.Equal(t, a.CanonicalPairs(), b.CanonicalPairs())
	})

	t.Run("decision number is excluded", func(t *testing.T) {
		frame := EntityFrame{DecisionNumber: intPtr(2983), Topic: "חינוך"}
		pairs := frame.CanonicalPairs()
		require.Len(t, pairs, 1)
		assert.Equal(t, "topic=חינוך", pairs[0])
	})

	t.Run("empty frame has no pairs", func(t *testing.T) {
		assert.Empty(t, EntityFrame{}.CanonicalPairs())
	})
}

func TestEntityFrame_IsEmpty(t *testing.T) {
	assert.True(t, EntityFrame{}.IsEmpty())
	assert.False(t, EntityFrame{Topic: "חינוך"}.IsEmpty())
	assert.False(t, EntityFrame{Limit: 3}.IsEmpty())
}
