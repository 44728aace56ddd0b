package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client *openai.Client
}

func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	slog.Info("Initializing OpenAI client")
	return &OpenAIClient{client: openai.NewClient(apiKey)}, nil
}

// Generate implements the Client interface
func (o *OpenAIClient) Generate(ctx context.Context, model string, prompt string) (string, error) {
	slog.Debug("Generating text via OpenAI", "model", model)
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		slog.Error("OpenAI API call failed", "model", model, "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices or empty content")
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	if resp.Choices[0].FinishReason == openai.FinishReasonContentFilter {
		return "", ErrSafetyBlocked
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream implements the StreamingClient interface
func (o *OpenAIClient) GenerateStream(ctx context.Context, model string, prompt string, onChunk ChunkFunc) error {
	slog.Debug("Streaming text via OpenAI", "model", model)
	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		slog.Error("OpenAI stream creation failed", "model", model, "error", err)
		return fmt.Errorf("OpenAI stream creation failed: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("OpenAI stream receive failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason == openai.FinishReasonContentFilter {
			return ErrSafetyBlocked
		}
		if choice.Delta.Content == "" {
			continue
		}
		if err := onChunk(choice.Delta.Content); err != nil {
			return err
		}
	}
}
