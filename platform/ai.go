package platform

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

var errEmptyCompletion = errors.New("completion returned no choices")

// AIResponder produces a smart reply to an inbound message, following the
// automation author's instruction prompt.
type AIResponder interface {
	Reply(ctx context.Context, prompt, userText, model string) (string, error)
}

type OpenAIResponder struct {
	client  *openai.Client
	timeout time.Duration
}

func NewOpenAIResponder(apiKey string) *OpenAIResponder {
	return &OpenAIResponder{
		client:  openai.NewClient(apiKey),
		timeout: 20 * time.Second,
	}
}

func (r *OpenAIResponder) Reply(ctx context.Context, prompt, userText, model string) (string, error) {
	if model == "" {
		model = openai.GPT4oMini
	}
	if prompt == "" {
		prompt = "You are a helpful assistant replying to a social media message on behalf of a business. Keep replies short and friendly."
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: userText},
		},
		MaxTokens: 300,
	})
	if err != nil {
		// treat anything but an explicit API rejection as transient
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
			return "", &PermanentError{Op: "ai_reply", Status: apiErr.HTTPStatusCode, Err: err}
		}
		return "", &RetryableError{Op: "ai_reply", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &RetryableError{Op: "ai_reply", Err: errEmptyCompletion}
	}
	return resp.Choices[0].Message.Content, nil
}
