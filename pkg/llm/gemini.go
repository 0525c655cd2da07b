package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/artificer-dev/artificer/pkg/config"
)

// GeminiProvider talks to the Gemini API through the Google Gen AI SDK.
// A fresh SDK client is built per request so the key pool can hand each
// call a different credential.
type GeminiProvider struct {
	model       string
	temperature *float32
	maxTokens   *int32
}

// NewGeminiProvider creates a Gemini provider from resolved config.
func NewGeminiProvider(cfg *config.LLMConfig) *GeminiProvider {
	return &GeminiProvider{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Generate produces a complete response for the prompt.
func (p *GeminiProvider) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	client, err := p.newSDKClient(ctx, apiKey)
	if err != nil {
		return "", err
	}

	resp, err := client.Models.GenerateContent(ctx, p.model, promptContents(prompt), p.generateConfig())
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	text := collectText(resp)
	if text == "" {
		return "", fmt.Errorf("empty response from gemini model %s", p.model)
	}
	return text, nil
}

// GenerateStream streams the response into chunks. Thinking parts are
// flagged so the caller can route them separately from answer text.
func (p *GeminiProvider) GenerateStream(ctx context.Context, apiKey, prompt string, chunks chan<- StreamChunk) error {
	client, err := p.newSDKClient(ctx, apiKey)
	if err != nil {
		return err
	}

	for resp, err := range client.Models.GenerateContentStream(ctx, p.model, promptContents(prompt), p.generateConfig()) {
		if err != nil {
			return fmt.Errorf("gemini stream failed: %w", err)
		}
		if resp == nil {
			continue
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil || part.Text == "" {
					continue
				}
				select {
				case chunks <- StreamChunk{Content: part.Text, IsThinking: part.Thought}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}

	select {
	case chunks <- StreamChunk{IsComplete: true, IsFinal: true}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *GeminiProvider) newSDKClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

func (p *GeminiProvider) generateConfig() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if p.temperature != nil {
		cfg.Temperature = genai.Ptr(*p.temperature)
	}
	if p.maxTokens != nil {
		cfg.MaxOutputTokens = *p.maxTokens
	}
	return cfg
}

func promptContents(prompt string) []*genai.Content {
	return []*genai.Content{
		{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
}

// collectText concatenates the non-thinking text parts of a response.
func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
