package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_AppendTurn(t *testing.T) {
	now := time.Now()

	t.Run("FIFO never exceeds the cap", func(t *testing.T) {
		conv := NewConversation("c1", now)
		for i := 0; i < 30; i++ {
			conv.AppendTurn(Turn{
				ID:        fmt.Sprintf("t%d", i),
				Speaker:   SpeakerUser,
				Text:      fmt.Sprintf("turn %d", i),
				Timestamp: now.Add(time.Duration(i) * time.Second),
			}, 20)
		}
		require.Len(t, conv.Turns, 20)
		assert.Equal(t, "t10", conv.Turns[0].ID)
		assert.Equal(t, "t29", conv.Turns[19].ID)
	})

	t.Run("fewer turns than cap are all kept", func(t *testing.T) {
		conv := NewConversation("c2", now)
		for i := 0; i < 3; i++ {
			conv.AppendTurn(Turn{ID: fmt.Sprintf("t%d", i), Timestamp: now}, 20)
		}
		assert.Len(t, conv.Turns, 3)
	})

	t.Run("timestamps clamp to non-decreasing", func(t *testing.T) {
		conv := NewConversation("c3", now)
		conv.AppendTurn(Turn{ID: "a", Timestamp: now}, 20)
		conv.AppendTurn(Turn{ID: "b", Timestamp: now.Add(-time.Minute)}, 20)

		assert.False(t, conv.Turns[1].Timestamp.Before(conv.Turns[0].Timestamp))
		assert.Equal(t, conv.Turns[1].Timestamp, conv.LastTouch)
	})
}

func TestConversation_LastResultIDs(t *testing.T) {
	conv := NewConversation("c1", time.Now())
	assert.Nil(t, conv.LastResultIDs())

	conv.LastResult = &ResultSet{IDs: []string{"1", "2"}, Query: "q"}
	assert.Equal(t, []string{"1", "2"}, conv.LastResultIDs())
}
