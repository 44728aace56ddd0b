package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"google.golang.org/genai"
)

type GeminiClient struct {
	client *genai.Client
}

func NewGeminiClient(ctx context.Context) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/gemini_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the Gemini API Key from secrets")
		} else {
			slog.Error("GEMINI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	slog.Info("Initializing Gemini client")
	return &GeminiClient{client: client}, nil
}

// Generate implements the Client interface
func (g *GeminiClient) Generate(ctx context.Context, model string, prompt string) (string, error) {
	slog.Debug("Generating text via Gemini", "model", model)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	res, err := g.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		slog.Error("Gemini API call failed", "model", model, "error", err)
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	if blocked(res) {
		slog.Warn("Gemini blocked the response", "model", model)
		return "", ErrSafetyBlocked
	}

	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return text, nil
}

// GenerateStream implements the StreamingClient interface
func (g *GeminiClient) GenerateStream(ctx context.Context, model string, prompt string, onChunk ChunkFunc) error {
	slog.Debug("Streaming text via Gemini", "model", model)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	for res, err := range g.client.Models.GenerateContentStream(ctx, model, contents, nil) {
		if err != nil {
			slog.Error("Gemini stream failed", "model", model, "error", err)
			return fmt.Errorf("gemini generate content stream: %w", err)
		}
		if blocked(res) {
			slog.Warn("Gemini blocked the response mid-stream", "model", model)
			return ErrSafetyBlocked
		}
		text := res.Text()
		if text == "" {
			continue
		}
		if err := onChunk(text); err != nil {
			return err
		}
	}
	return nil
}

// blocked reports whether the provider withheld content on safety grounds.
func blocked(res *genai.GenerateContentResponse) bool {
	if res == nil {
		return false
	}
	if res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
		return true
	}
	for _, cand := range res.Candidates {
		if cand.FinishReason == genai.FinishReasonSafety {
			return true
		}
	}
	return false
}
