// Package respcache memoizes whole-pipeline answers for utterances the
// planner judged safe to cache. The cache is a dumb keyed store: every
// cacheability decision is made by the planner before this package is
// consulted.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ceci-ai/botchain/pkg/models"
)

// NormalizeText canonicalizes an utterance for key construction: trimmed,
// whitespace collapsed, latin letters lowercased. Hebrew is caseless so
// lowering is a no-op there.
func NormalizeText(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// BuildKey derives the deterministic cache key:
//
//	hash(pipeline_version ∥ normalized_text ∥ sorted(entity_frame ∖ reference_kinds))
//
// Reference-only kinds are excluded by EntityFrame.CanonicalPairs.
func BuildKey(pipelineVersion, text string, frame models.EntityFrame) string {
	h := sha256.New()
	h.Write([]byte(pipelineVersion))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeText(text)))
	for _, pair := range frame.CanonicalPairs() {
		h.Write([]byte{0})
		h.Write([]byte(pair))
	}
	return "respcache:" + hex.EncodeToString(h.Sum(nil))
}
