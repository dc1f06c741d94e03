// Package models contains the domain records shared across the orchestrator:
// conversations, entity frames, intents, result artifacts, and the wire
// shapes of the /chat stream.
package models

import "time"

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerSystem Speaker = "system"
)

// Turn is a single utterance within a conversation. Immutable once appended.
type Turn struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultSet holds the artifact ids returned by the most recent data-bearing
// turn, plus the query text that produced them. Positions are 1-based when
// resolved against ordinal references.
type ResultSet struct {
	IDs   []string `json:"ids"`
	Query string   `json:"query"`
}

// Conversation is the full per-conversation state persisted as one blob
// under {prefix}:{conv_id}:history.
type Conversation struct {
	ID          string      `json:"id"`
	Turns       []Turn      `json:"turns"`
	Frame       EntityFrame `json:"entity_frame"`
	LastResult  *ResultSet  `json:"last_result,omitempty"`
	CacheBypass bool        `json:"cache_bypass,omitempty"`
	Created     time.Time   `json:"created"`
	LastTouch   time.Time   `json:"last_touch"`
}

// NewConversation creates an empty conversation for its first turn.
func NewConversation(id string, now time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		Created:   now,
		LastTouch: now,
	}
}

// AppendTurn pushes a turn and trims the FIFO to maxTurns.
// Timestamps are clamped so the stored sequence is non-decreasing even if
// the caller's clock stepped backwards between turns.
func (c *Conversation) AppendTurn(t Turn, maxTurns int) {
	if n := len(c.Turns); n > 0 && t.Timestamp.Before(c.Turns[n-1].Timestamp) {
		t.Timestamp = c.Turns[n-1].Timestamp
	}
	c.Turns = append(c.Turns, t)
	if maxTurns > 0 && len(c.Turns) > maxTurns {
		c.Turns = c.Turns[len(c.Turns)-maxTurns:]
	}
	c.LastTouch = t.Timestamp
}

// LastResultIDs returns the last result set ids, or nil when there is none.
func (c *Conversation) LastResultIDs() []string {
	if c.LastResult == nil {
		return nil
	}
	return c.LastResult.IDs
}
