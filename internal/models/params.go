package models

import (
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// buildChatParams converts an ADK request into OpenAI chat parameters.
func buildChatParams(req *model.LLMRequest, modelName string) *openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
	}
	if req.Model == "" {
		params.Model = modelName
	}

	messages := convertContentsToMessages(req.Contents)
	if len(messages) > 0 {
		params.Messages = messages
	}

	if req.Config == nil {
		return &params
	}

	if req.Config.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Config.Temperature))
	}
	if req.Config.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.Config.MaxOutputTokens))
	}
	if req.Config.TopP != nil {
		params.TopP = openai.Float(float64(*req.Config.TopP))
	}
	if req.Config.SystemInstruction != nil {
		if text := contentText(req.Config.SystemInstruction); text != "" {
			params.Messages = append([]openai.ChatCompletionMessageParamUnion{openai.SystemMessage(text)}, params.Messages...)
		}
	}

	if format := convertResponseFormat(req.Config); format != nil {
		params.ResponseFormat = *format
	}

	return &params
}

// convertResponseFormat maps a genai response schema onto the OpenAI
// structured-output response format. With a schema attached the provider
// guarantees schema-valid JSON, so callers skip defensive re-parsing.
func convertResponseFormat(cfg *genai.GenerateContentConfig) *openai.ChatCompletionNewParamsResponseFormatUnion {
	if cfg.ResponseJsonSchema != nil {
		var schemaMap map[string]any
		switch s := cfg.ResponseJsonSchema.(type) {
		case *jsonschema.Schema:
			schemaMap = schemaToMap(s)
		case map[string]any:
			schemaMap = s
		}
		if schemaMap != nil {
			return &openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
					JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   "structured_response",
						Schema: schemaMap,
						Strict: openai.Bool(true),
					},
				},
			}
		}
	}

	if cfg.ResponseMIMEType == "application/json" {
		return &openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return nil
}

// schemaToMap converts a jsonschema.Schema into the plain map form the OpenAI
// API expects.
func schemaToMap(schema *jsonschema.Schema) map[string]any {
	if schema == nil {
		return nil
	}

	result := make(map[string]any)

	if len(schema.Types) > 0 {
		result["type"] = schema.Types[0]
	} else if schema.Type != "" {
		result["type"] = schema.Type
	}
	if schema.Description != "" {
		result["description"] = schema.Description
	}
	if schema.Format != "" {
		result["format"] = schema.Format
	}
	if len(schema.Enum) > 0 {
		result["enum"] = schema.Enum
	}
	if schema.Const != nil {
		result["const"] = *schema.Const
	}
	if len(schema.Default) > 0 {
		var defaultVal any
		if err := json.Unmarshal(schema.Default, &defaultVal); err == nil {
			result["default"] = defaultVal
		}
	}
	if schema.Minimum != nil {
		result["minimum"] = *schema.Minimum
	}
	if schema.Maximum != nil {
		result["maximum"] = *schema.Maximum
	}
	if schema.Items != nil {
		result["items"] = schemaToMap(schema.Items)
	}

	if len(schema.Properties) > 0 {
		properties := make(map[string]any, len(schema.Properties))
		for name, propSchema := range schema.Properties {
			if propSchema != nil {
				properties[name] = schemaToMap(propSchema)
			}
		}
		result["properties"] = properties
	}
	if result["type"] == "object" {
		// Strict mode requires required and additionalProperties to be
		// explicit on every object node.
		required := schema.Required
		if required == nil {
			required = []string{}
		}
		result["required"] = required
		result["additionalProperties"] = false
	}

	return result
}

// convertContentsToMessages converts genai contents to OpenAI messages.
func convertContentsToMessages(contents []*genai.Content) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion

	for _, content := range contents {
		if content == nil {
			continue
		}
		text := contentText(content)
		if text == "" {
			continue
		}

		switch content.Role {
		case "user":
			messages = append(messages, openai.UserMessage(text))
		case "model", "assistant":
			messages = append(messages, openai.AssistantMessage(text))
		case "system":
			messages = append(messages, openai.SystemMessage(text))
		default:
			messages = append(messages, openai.UserMessage(text))
		}
	}

	return messages
}

func contentText(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
