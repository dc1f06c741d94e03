package models

// ResultArtifact is one government decision as returned by SQL-EXEC.
// The core treats it as opaque: it stores only IDs in conversation state
// and forwards the rest to RANK / EVAL / FORMAT unchanged.
type ResultArtifact struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	Content string `json:"content,omitempty"`
}

// ArtifactIDs extracts the ordered ids from a ranked artifact list.
func ArtifactIDs(artifacts []ResultArtifact) []string {
	ids := make([]string, len(artifacts))
	for i, a := range artifacts {
		ids[i] = a.ID
	}
	return ids
}
