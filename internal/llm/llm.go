package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/matiku/lms/internal/llm/prompts"
	"github.com/matiku/lms/internal/model"
)

// ErrScoreOutOfRange is returned when an assessment score falls outside 0-100.
var ErrScoreOutOfRange = errors.New("AI score outside 0-100")

// maxHistory bounds how many earlier chat turns are replayed to the model.
const maxHistory = 20

// AssessResult holds the model's scoring of a teacher's analysis.
type AssessResult struct {
	Score          int    `json:"score"`
	Recommendation string `json:"recommendation"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client and loads the prompt templates.
func New(baseURL, apiKey, modelName string) (*Client, error) {
	if err := prompts.Load(prompts.FS); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}, nil
}

// Ping checks that the endpoint answers a minimal completion.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "ping"},
	}, 0, false)
	return err
}

// Assess scores a teacher's free-text analysis of a student and returns a
// study recommendation. The score is rounded to an integer.
func (c *Client) Assess(ctx context.Context, analysis string) (*AssessResult, error) {
	prompt, err := prompts.Build(prompts.Assess, prompts.AssessData{Analysis: prompts.Sanitize(analysis)})
	if err != nil {
		return nil, err
	}
	raw, err := c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, 0.2, true)
	if err != nil {
		return nil, fmt.Errorf("LLM assessment call: %w", err)
	}
	return parseAssessment(raw)
}

func parseAssessment(raw string) (*AssessResult, error) {
	var resp struct {
		Score          *float64 `json:"score"`
		Recommendation string   `json:"recommendation"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("parse assessment response: %w (raw: %s)", err, raw)
	}
	if resp.Score == nil {
		return nil, fmt.Errorf("assessment response has no score (raw: %s)", raw)
	}
	score := int(math.Round(*resp.Score))
	if score < 0 || score > 100 {
		return nil, fmt.Errorf("%w: %d", ErrScoreOutOfRange, score)
	}
	return &AssessResult{Score: score, Recommendation: strings.TrimSpace(resp.Recommendation)}, nil
}

// Tutor answers a student's message in the guiding tutor persona.
func (c *Client) Tutor(ctx context.Context, studentName string, history []model.ChatMessage, input string) (string, error) {
	system, err := prompts.Build(prompts.Tutor, prompts.TutorData{StudentName: studentName})
	if err != nil {
		return "", err
	}
	return c.converse(ctx, system, history, input, 0.7)
}

// Chat answers a teacher's question as a general classroom assistant.
func (c *Client) Chat(ctx context.Context, teacherName string, history []model.ChatMessage, input string) (string, error) {
	system, err := prompts.Build(prompts.Chat, prompts.ChatData{TeacherName: teacherName})
	if err != nil {
		return "", err
	}
	return c.converse(ctx, system, history, input, 0.5)
}

// DescribeModule drafts a short description for a module title.
func (c *Client) DescribeModule(ctx context.Context, title string) (string, error) {
	prompt, err := prompts.Build(prompts.Describe, prompts.DescribeData{Title: prompts.Sanitize(title)})
	if err != nil {
		return "", err
	}
	return c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, 0.7, false)
}

func (c *Client) converse(ctx context.Context, system string, history []model.ChatMessage, input string, temp float32) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty message")
	}
	return c.complete(ctx, buildMessages(system, history, input), temp, false)
}

// buildMessages turns a chat history into completion messages, keeping only
// the most recent turns.
func buildMessages(system string, history []model.ChatMessage, input string) []openai.ChatCompletionMessage {
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == model.ChatRoleAI {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: input})
}

func (c *Client) complete(ctx context.Context, msgs []openai.ChatCompletionMessage, temp float32, jsonOut bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: temp,
	}
	if jsonOut {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return strings.TrimSpace(raw), nil
}
