package models

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
)

// GenerateText issues one non-streaming completion and returns the final
// response text.
func GenerateText(ctx context.Context, llm model.LLM, req *model.LLMRequest) (string, error) {
	seq := llm.GenerateContent(ctx, req, false)

	var last string
	var outErr error
	seq(func(resp *model.LLMResponse, err error) bool {
		if err != nil {
			outErr = err
			return false
		}
		if resp == nil || resp.Content == nil {
			return true
		}
		if text := strings.TrimSpace(contentText(resp.Content)); text != "" {
			last = text
		}
		return true
	})
	if outErr != nil {
		return "", outErr
	}
	if last == "" {
		return "", fmt.Errorf("empty model response")
	}
	return last, nil
}
