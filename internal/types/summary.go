package types

import "time"

// MessageRange describes the contiguous block of messages a summary covers.
type MessageRange struct {
	StartMessageID string `json:"startMessageId"`
	EndMessageID   string `json:"endMessageId"`
	MessageCount   int    `json:"messageCount"`
}

// TopicSummary is a compressed representation of a message range, tagged with
// a topic and optionally embedded for similarity search. Ranges of successive
// summaries in one conversation are non-overlapping and Level increases by
// exactly one per summary.
type TopicSummary struct {
	ID             string
	ConversationID string
	Topic          string
	Summary        string
	RelatedTopics  []string
	Range          MessageRange
	Level          int
	Relevance      float64
	BroaderTopic   string
	Embedding      []float32
	CreatedAt      time.Time
}

// RetrievedSummary is a TopicSummary plus the similarity score it was
// retrieved with. Similarity is zero for non-vector retrieval paths.
type RetrievedSummary struct {
	TopicSummary
	Similarity float64
}
