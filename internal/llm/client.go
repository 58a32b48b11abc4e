// Package llm adapts an OpenAI-compatible API (Groq by default) to the
// extraction, structuring, answer composition and embedding collaborators.
package llm

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hpungsan/classmate/internal/timetable"
)

// Defaults for the Groq endpoint.
const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultChatModel   = "llama-3.3-70b-versatile"
	DefaultVisionModel = "meta-llama/llama-4-scout-17b-16e-instruct"
)

// ErrEmptyResponse is returned when the API answers with no choices or
// no content.
var ErrEmptyResponse = stderrors.New("empty completion")

// Config selects the endpoint and models.
type Config struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	VisionModel string
	// HTTPClient is optional.
	HTTPClient *http.Client
}

// Client implements session.Extractor, session.Structurer and
// retrieval.Composer.
type Client struct {
	api         *openai.Client
	chatModel   string
	visionModel string
	logger      *slog.Logger
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = DefaultVisionModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &Client{
		api:         openai.NewClientWithConfig(oc),
		chatModel:   cfg.ChatModel,
		visionModel: cfg.VisionModel,
		logger:      logger.With("component", "llm"),
	}
}

// Extract transcribes the text in a timetable image with the vision model.
func (c *Client) Extract(ctx context.Context, image []byte) (string, error) {
	uri := "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)

	req := openai.ChatCompletionRequest{
		Model:       c.visionModel,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: extractPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: uri, Detail: openai.ImageURLDetailHigh}},
			},
		}},
	}
	text, err := c.complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("extract: %w", err)
	}
	c.logger.Debug("extracted text", "image_bytes", len(image), "chars", len(text))
	return text, nil
}

// Structure asks the chat model for timetable JSON and parses it. A reply
// without a JSON object yields an empty timetable.
func (c *Client) Structure(ctx context.Context, raw string) (timetable.Timetable, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: structurePrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(structureRequestFormat, raw)},
		},
	}
	text, err := c.complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("structure: %w", err)
	}
	tt, err := timetable.ParseStructured(text)
	if err != nil {
		return nil, fmt.Errorf("structure: %w", err)
	}
	return tt, nil
}

// Compose answers question from the retrieved context block.
func (c *Client) Compose(ctx context.Context, question, contextBlock string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: composePrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(composeRequestFormat, question, contextBlock)},
		},
	}
	text, err := c.complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("compose: %w", err)
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	c.logger.Debug("completion", "model", req.Model, "prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	return text, nil
}
