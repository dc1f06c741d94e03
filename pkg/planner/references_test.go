package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceci-ai/botchain/pkg/config"
	"github.com/ceci-ai/botchain/pkg/models"
)

func newTestScanner() *RefScanner {
	return NewRefScanner(config.DefaultReferenceConfig())
}

func TestRefScanner_Scan(t *testing.T) {
	s := newTestScanner()

	t.Run("exact ordinal", func(t *testing.T) {
		hits := s.Scan("ספר לי על ההחלטה השלישית")
		require.Len(t, hits, 1)
		assert.Equal(t, RefOrdinal, hits[0].Kind)
		assert.Equal(t, 3, hits[0].Position)
	})

	t.Run("misspelled ordinal matches fuzzily", func(t *testing.T) {
		hits := s.Scan("מה לגבי השלשית")
		require.Len(t, hits, 1)
		assert.Equal(t, RefOrdinal, hits[0].Kind)
		assert.Equal(t, 3, hits[0].Position)
	})

	t.Run("last-position ordinal", func(t *testing.T) {
		hits := s.Scan("ומה ההחלטה האחרונה")
		require.Len(t, hits, 1)
		assert.Equal(t, -1, hits[0].Position)
	})

	t.Run("leading conjunction is stripped", func(t *testing.T) {
		hits := s.Scan("והרביעית")
		require.Len(t, hits, 1)
		assert.Equal(t, RefOrdinal, hits[0].Kind)
		assert.Equal(t, 4, hits[0].Position)
	})

	t.Run("demonstrative", func(t *testing.T) {
		hits := s.Scan("מה התקציב של זה")
		require.Len(t, hits, 1)
		assert.Equal(t, RefDemonstrative, hits[0].Kind)
	})

	t.Run("multi-word back-reference", func(t *testing.T) {
		hits := s.Scan("ההחלטות שהראית לי")
		require.Len(t, hits, 1)
		assert.Equal(t, RefBackReference, hits[0].Kind)
		assert.Equal(t, "שהראית לי", hits[0].Word)
	})

	t.Run("single-word back-reference", func(t *testing.T) {
		hits := s.Scan("חזור להחלטה הקודמת")
		require.Len(t, hits, 1)
		assert.Equal(t, RefBackReference, hits[0].Kind)
	})

	t.Run("multiple ordinals kept in order", func(t *testing.T) {
		hits := s.Scan("ההחלטה הראשונה או השלישית")
		require.Len(t, hits, 2)
		assert.Equal(t, 1, hits[0].Position)
		assert.Equal(t, 3, hits[1].Position)
	})

	t.Run("plain query has no references", func(t *testing.T) {
		assert.False(t, s.HasReference("החלטות ממשלה 37 בנושא חינוך"))
	})
}

func TestRefScanner_HasResetCue(t *testing.T) {
	s := newTestScanner()
	assert.True(t, s.HasResetCue("שאלה חדשה, מה עם תחבורה"))
	assert.True(t, s.HasResetCue("בוא נתחיל מחדש"))
	assert.False(t, s.HasResetCue("עוד החלטות בנושא"))
}

func TestRefScanner_HasTimeSensitive(t *testing.T) {
	s := newTestScanner()
	assert.True(t, s.HasTimeSensitive("ההחלטות האחרונות של הממשלה"))
	assert.True(t, s.HasTimeSensitive("מה קרה השבוע"))
	assert.False(t, s.HasTimeSensitive("החלטות בנושא חינוך"))
}

func TestResolveReference(t *testing.T) {
	last := &models.ResultSet{IDs: []string{"100", "200", "300"}, Query: "q"}

	t.Run("ordinal picks by position", func(t *testing.T) {
		id, ambiguous := resolveReference([]RefHit{{Kind: RefOrdinal, Position: 2}}, last)
		require.False(t, ambiguous)
		assert.Equal(t, "200", id)
	})

	t.Run("last ordinal picks the tail", func(t *testing.T) {
		id, ambiguous := resolveReference([]RefHit{{Kind: RefOrdinal, Position: -1}}, last)
		require.False(t, ambiguous)
		assert.Equal(t, "300", id)
	})

	t.Run("latest-mentioned ordinal wins", func(t *testing.T) {
		hits := []RefHit{{Kind: RefOrdinal, Position: 1}, {Kind: RefOrdinal, Position: 3}}
		id, ambiguous := resolveReference(hits, last)
		require.False(t, ambiguous)
		assert.Equal(t, "300", id)
	})

	t.Run("out-of-range ordinal is ambiguous", func(t *testing.T) {
		_, ambiguous := resolveReference([]RefHit{{Kind: RefOrdinal, Position: 7}}, last)
		assert.True(t, ambiguous)
	})

	t.Run("back-reference binds the head", func(t *testing.T) {
		id, ambiguous := resolveReference([]RefHit{{Kind: RefBackReference}}, last)
		require.False(t, ambiguous)
		assert.Equal(t, "100", id)
	})

	t.Run("demonstrative over many candidates is ambiguous", func(t *testing.T) {
		_, ambiguous := resolveReference([]RefHit{{Kind: RefDemonstrative}}, last)
		assert.True(t, ambiguous)
	})

	t.Run("demonstrative over a single candidate binds", func(t *testing.T) {
		one := &models.ResultSet{IDs: []string{"42"}}
		id, ambiguous := resolveReference([]RefHit{{Kind: RefDemonstrative}}, one)
		require.False(t, ambiguous)
		assert.Equal(t, "42", id)
	})

	t.Run("empty result set is always ambiguous", func(t *testing.T) {
		_, ambiguous := resolveReference([]RefHit{{Kind: RefOrdinal, Position: 1}}, nil)
		assert.True(t, ambiguous)

		_, ambiguous = resolveReference([]RefHit{{Kind: RefOrdinal, Position: 1}}, &models.ResultSet{})
		assert.True(t, ambiguous)
	})
}
