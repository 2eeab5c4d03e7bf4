package types

// RetrievalConfidence reports how good a retrieval pass was. It feeds the
// intent analyzer's confidence back-fill.
type RetrievalConfidence struct {
	Quality        float64 `json:"quality"`
	AvgSimilarity  float64 `json:"avgSimilarity"`
	HasStrongMatch bool    `json:"hasStrongMatch"`
	ResultCount    int     `json:"resultCount"`
	QueryMatchRate float64 `json:"queryMatchRate"`
}

// RetrievalResult is what the smart context retriever hands to the caller.
// Method records the strategy that actually executed, which differs from the
// requested one on fallback paths.
type RetrievalResult struct {
	Summaries       []RetrievedSummary
	Method          string
	TotalAvailable  int
	Retrieved       int
	HasExactMatches bool
	Confidence      RetrievalConfidence
	Metadata        map[string]any
}
