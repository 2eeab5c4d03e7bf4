// Package intent classifies each user turn and decides how much historical
// context to load before generating a reply.
package intent

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// classifyInstruction encodes the classification rules. The strategy rules are
// product requirements: topic recall always searches semantically even when
// the topic is visible in loaded context, and temporal references win over
// topic references.
const classifyInstruction = `You are an intent analyzer for a conversational assistant.
Classify the new user message against the conversation context you are given.

Decide a context retrieval strategy:
- "none": small talk or a self-contained message needing no history
- "recent_only": the message continues the current thread; recent turns suffice
- "semantic_search": the message refers to something discussed before
- "date_based_search": the message contains a temporal reference
- "all_available": the user asks for a broad recap of everything

Strategy rules, in priority order:
1. Any temporal reference ("yesterday", "last week", "this morning", an
   explicit date) means "date_based_search", even when the message also names
   a topic. Put the temporal expression in "dateQuery" and set "includeHours"
   true only for intra-day references. Keep topic terms in "keyTopics".
2. Any reference to past discussion ("we talked about", "we discussed",
   "tell me about X", "what did we say about", "you mentioned") means
   "semantic_search", regardless of whether the topic appears in the loaded
   context. Put one short search query per topic into "searchQueries".
3. A message classified "recall" must never get strategy "none".

Set "maxItems" to how many summaries to surface: 3 for casual questions,
5 to 8 when the user asks for detail, 10 when the user asks for everything.

Also report: "currentIntent" (one sentence), "contextualRelevance"
(high/medium/low dependence on history), "relationshipToHistory"
(continuation/new_topic/clarification/recall), "keyTopics", any
"pendingQuestions" the user has not answered yet, and the
"lastAssistantQuestion" if one is still open.`

// classificationSchema is the structured-output schema for one classification
// pass. With it attached the provider guarantees schema-valid JSON.
func classificationSchema() *jsonschema.Schema {
	stringArray := func() *jsonschema.Schema {
		return &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}}
	}
	minItems := 1.0
	maxItems := 10.0

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"currentIntent": {
				Type:        "string",
				Description: "One sentence describing what the user wants now.",
			},
			"contextualRelevance": {
				Type: "string",
				Enum: []any{"high", "medium", "low"},
			},
			"relationshipToHistory": {
				Type: "string",
				Enum: []any{"continuation", "new_topic", "clarification", "recall"},
			},
			"keyTopics":        stringArray(),
			"pendingQuestions": stringArray(),
			"lastAssistantQuestion": {
				Type: "string",
			},
			"contextRetrievalStrategy": {
				Type: "string",
				Enum: []any{"none", "recent_only", "semantic_search", "date_based_search", "all_available"},
			},
			"searchQueries": stringArray(),
			"dateQuery": {
				Type:        "string",
				Description: "The temporal expression from the message, verbatim, or empty.",
			},
			"includeHours": {
				Type: "boolean",
			},
			"maxItems": {
				Type:    "integer",
				Minimum: &minItems,
				Maximum: &maxItems,
			},
		},
		Required: []string{
			"currentIntent", "contextualRelevance", "relationshipToHistory",
			"keyTopics", "pendingQuestions", "lastAssistantQuestion",
			"contextRetrievalStrategy", "searchQueries", "dateQuery",
			"includeHours", "maxItems",
		},
	}
}
