package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/artificer-dev/artificer/pkg/config"
)

// OpenAIProvider talks to any OpenAI-compatible chat completion API.
// Setting base_url points it at a local endpoint such as Ollama.
type OpenAIProvider struct {
	baseURL     string
	model       string
	temperature *float32
	maxTokens   *int32
}

// NewOpenAIProvider creates an OpenAI-compatible provider from resolved config.
func NewOpenAIProvider(cfg *config.LLMConfig) *OpenAIProvider {
	return &OpenAIProvider{
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Generate produces a complete response for the prompt.
func (p *OpenAIProvider) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	client := p.newSDKClient(apiKey)

	resp, err := client.CreateChatCompletion(ctx, p.chatRequest(prompt, false))
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from model %s", p.model)
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream streams the response into chunks.
func (p *OpenAIProvider) GenerateStream(ctx context.Context, apiKey, prompt string, chunks chan<- StreamChunk) error {
	client := p.newSDKClient(apiKey)

	stream, err := client.CreateChatCompletionStream(ctx, p.chatRequest(prompt, true))
	if err != nil {
		return fmt.Errorf("openai stream failed: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("openai stream failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		content := resp.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		select {
		case chunks <- StreamChunk{Content: content}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case chunks <- StreamChunk{IsComplete: true, IsFinal: true}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *OpenAIProvider) newSDKClient(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (p *OpenAIProvider) chatRequest(prompt string, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: stream,
	}
	if p.temperature != nil {
		req.Temperature = *p.temperature
	}
	if p.maxTokens != nil {
		req.MaxTokens = int(*p.maxTokens)
	}
	return req
}
