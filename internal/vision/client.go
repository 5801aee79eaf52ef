package vision

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultPromptTemplate is the prompt sent with each frame. {ocr_text} is
// replaced with the frame's extracted text.
const DefaultPromptTemplate = `You are analyzing a screenshot from a user's computer.
The OCR extracted text is: {ocr_text}

Describe concisely (1-2 sentences) what application/window is visible and what the user is likely doing. Focus on the activity, not UI elements.`

// Summarizer is the contract with the remote vision model: given a rendered
// prompt and an image data URI, return a short natural-language summary.
// Failure modes (auth, rate limit, timeout, unknown model) are not
// distinguished; all surface as errors.
type Summarizer interface {
	Summarize(ctx context.Context, prompt, imageDataURI string) (string, error)
}

// ClientConfig configures the vision model client.
type ClientConfig struct {
	Model     string
	Endpoint  string
	APIKey    string
	MaxTokens int
}

// OpenAIClient talks to an OpenAI-compatible chat completions API. The
// underlying HTTP client is reused for the worker's lifetime.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIClient constructs the vision model client. Construction fails fast
// on a missing credential or model so the worker can refuse to start.
func NewOpenAIClient(cfg ClientConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vision model API key is not configured")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("vision model name is not configured")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 150
	}

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}, nil
}

// Summarize sends a single-message chat request carrying the prompt text and
// the image, and returns the first choice's content. An empty response is an
// error.
func (c *OpenAIClient) Summarize(ctx context.Context, prompt, imageDataURI string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: imageDataURI,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision model request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision model returned no choices")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf("vision model returned empty content")
	}

	return summary, nil
}

// RenderPrompt substitutes the frame's OCR text into the prompt template.
// NULL text renders as the literal "(no text detected)"; long text is
// truncated to 1000 characters.
func RenderPrompt(template string, ocrText *string) string {
	if template == "" {
		template = DefaultPromptTemplate
	}

	context := "(no text detected)"
	if ocrText != nil && *ocrText != "" {
		context = *ocrText
		if len(context) > 1000 {
			context = context[:1000]
		}
	}

	return strings.ReplaceAll(template, "{ocr_text}", context)
}
