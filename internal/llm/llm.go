// Package llm scores free-text answers with an OpenAI-compatible chat model.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/examgrader/internal/apperr"
	"github.com/pavelanni/examgrader/internal/grading"
	"github.com/pavelanni/examgrader/internal/llm/prompts"
)

// Client wraps an OpenAI-compatible API client and implements grading.Scorer.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

var _ grading.Scorer = (*Client)(nil)

// New creates a new LLM client. An empty variant selects the standard prompt.
func New(baseURL, apiKey, modelName string, variant prompts.PromptVariant) (*Client, error) {
	if variant == "" {
		variant = prompts.PromptStandard
	}
	if !prompts.IsValidVariant(string(variant)) {
		return nil, apperr.Config("invalid prompt variant %q", variant)
	}
	if err := prompts.Load(prompts.FS); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variant,
	}, nil
}

// scoreReply is the JSON object the model is asked to return.
type scoreReply struct {
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
}

// Score asks the model to score one answer. All failures are returned as
// *apperr.ExternalServiceError; transport and server-side failures are transient.
func (c *Client) Score(ctx context.Context, req grading.ScoreRequest) (grading.ScoreResponse, error) {
	data := prompts.ScoreData{
		QuestionText:    req.Question,
		MaxMarks:        req.MaxMarks,
		ReferenceAnswer: req.ReferenceAnswer,
		Answer:          req.StudentAnswer,
	}
	if req.Context != nil {
		data.Difficulty = req.Context.Difficulty
		data.GradeLevel = req.Context.GradeLevel
	}
	systemPrompt, err := prompts.BuildScorePrompt(c.variant, data)
	if err != nil {
		return grading.ScoreResponse{}, apperr.External("build prompt", err, false)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Score the answer."},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return grading.ScoreResponse{}, apperr.External("LLM API call", err, isTransient(err))
	}

	if len(resp.Choices) == 0 {
		return grading.ScoreResponse{}, apperr.External("LLM API call", errors.New("LLM returned no choices"), false)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "question_id", req.QuestionID, "raw", raw)

	return parseReply(raw)
}

func parseReply(raw string) (grading.ScoreResponse, error) {
	var reply scoreReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return grading.ScoreResponse{}, apperr.External("parse LLM response",
			fmt.Errorf("%w (raw: %s)", err, raw), false)
	}
	if reply.Score == nil {
		return grading.ScoreResponse{}, apperr.External("parse LLM response",
			fmt.Errorf("missing score (raw: %s)", raw), false)
	}
	if math.IsNaN(*reply.Score) || math.IsInf(*reply.Score, 0) {
		return grading.ScoreResponse{}, apperr.External("parse LLM response",
			fmt.Errorf("invalid score %v", *reply.Score), false)
	}
	return grading.ScoreResponse{Score: *reply.Score, Feedback: reply.Feedback}, nil
}

// isTransient reports whether a failed call may succeed if repeated.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	// Anything else is a transport failure.
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
