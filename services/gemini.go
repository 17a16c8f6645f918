package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nsanthan/intervox/backend/models"

	"google.golang.org/genai"
)

const ModelName = "gemini-2.0-flash-001"

// GenerateOptions bounds a single text-generation call.
type GenerateOptions struct {
	MaxOutputTokens int32
	Temperature     float32
}

// TextGenerator is the text-generation backend contract. Calls may be slow
// and may fail; every caller carries its own fallback path.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	GenerateChat(ctx context.Context, system string, messages []models.ConversationMessage, opts GenerateOptions) (string, error)
}

// GeminiService is the production TextGenerator backed by the Gemini API.
type GeminiService struct {
	genaiClient *genai.Client
}

func NewGeminiService(apiKey string) *GeminiService {
	genaiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		slog.Error("Failed to create genai client", "error", err)
		return nil
	}

	return &GeminiService{genaiClient: genaiClient}
}

// Generate runs a single-prompt completion.
func (g *GeminiService) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if g.genaiClient == nil {
		return "", fmt.Errorf("genai client not initialized")
	}

	result, err := g.genaiClient.Models.GenerateContent(
		ctx,
		ModelName,
		genai.Text(prompt),
		g.contentConfig("", opts),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	response := result.Text()
	slog.Info("Generated text", "prompt_length", len(prompt), "response_length", len(response))
	return response, nil
}

// GenerateChat runs a completion over an ordered conversation history with a
// system instruction.
func (g *GeminiService) GenerateChat(ctx context.Context, system string, messages []models.ConversationMessage, opts GenerateOptions) (string, error) {
	if g.genaiClient == nil {
		return "", fmt.Errorf("genai client not initialized")
	}

	var contents []*genai.Content
	for _, msg := range messages {
		// Skip empty or whitespace-only content
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if msg.Role == models.RoleAssistant {
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		} else {
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		contents = append(contents, genai.NewContentFromText("Hello", genai.RoleUser))
	}

	result, err := g.genaiClient.Models.GenerateContent(
		ctx,
		ModelName,
		contents,
		g.contentConfig(system, opts),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	response := result.Text()
	slog.Info("Generated chat response", "history_length", len(messages), "response_length", len(response))
	return response, nil
}

func (g *GeminiService) contentConfig(system string, opts GenerateOptions) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if opts.MaxOutputTokens > 0 {
		config.MaxOutputTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		config.Temperature = genai.Ptr(opts.Temperature)
	}
	return config
}
