package planner

import (
	"strings"

	"github.com/ceci-ai/botchain/pkg/models"
)

// digestTurnLimit caps how much of a single turn enters the digest.
const digestTurnLimit = 160

// contextDigest renders the last recencyTurns turns as a compact plain-text
// digest for the intent stage. Empty when the conversation has no history.
func contextDigest(conv *models.Conversation, recencyTurns int) string {
	if conv == nil || len(conv.Turns) == 0 || recencyTurns <= 0 {
		return ""
	}
	turns := conv.Turns
	if len(turns) > recencyTurns {
		turns = turns[len(turns)-recencyTurns:]
	}

	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(truncateRunes(t.Text, digestTurnLimit))
	}
	return b.String()
}

// truncateRunes shortens s to at most n runes, marking the cut.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
