package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/taskgate/internal/config"
	"github.com/phrazzld/taskgate/internal/task"
	"google.golang.org/genai"
)

// HandlerKind is the registry key for the text generation handler
const HandlerKind = "generate_text"

// ContentGenerator is the part of the genai Models service the handler calls.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Request is the generate_text payload
type Request struct {
	Prompt          string   `json:"prompt"`
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens int32    `json:"max_output_tokens,omitempty"`
}

// Response is the generate_text result
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// Handler implements task.Handler on top of a ContentGenerator.
type Handler struct {
	generator ContentGenerator
	model     string
	logger    *slog.Logger
}

var _ task.Handler = (*Handler)(nil)

// NewHandler creates a Gemini API client from cfg and wraps it in a Handler.
func NewHandler(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Handler, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}
	return NewHandlerWithGenerator(client.Models, cfg.ModelName, logger)
}

// NewHandlerWithGenerator builds a Handler around an existing generator
func NewHandlerWithGenerator(generator ContentGenerator, model string, logger *slog.Logger) (*Handler, error) {
	if generator == nil {
		return nil, fmt.Errorf("%w: generator", task.ErrNilDependency)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		generator: generator,
		model:     model,
		logger:    logger.With(slog.String("component", "gemini_handler")),
	}, nil
}

// Handle decodes the prompt, calls the model once and encodes the reply.
// Retries are left to the worker pool.
func (h *Handler) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	if err := task.Checkpoint(ctx); err != nil {
		return nil, err
	}

	genConfig := &genai.GenerateContentConfig{Temperature: req.Temperature}
	if req.MaxOutputTokens > 0 {
		genConfig.MaxOutputTokens = req.MaxOutputTokens
	}

	h.logger.DebugContext(ctx, "calling gemini",
		"model", h.model,
		"prompt_length", len(req.Prompt))

	resp, err := h.generator.GenerateContent(ctx, h.model, genai.Text(req.Prompt), genConfig)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	text, err := extractText(resp)
	if err != nil {
		return nil, err
	}

	h.logger.DebugContext(ctx, "gemini call succeeded",
		"model", h.model,
		"text_length", len(text))

	return json.Marshal(Response{Text: text, Model: h.model})
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	switch {
	case resp == nil:
		return "", fmt.Errorf("%w: nil response", ErrInvalidResponse)
	case len(resp.Candidates) == 0:
		return "", fmt.Errorf("%w: no candidates", ErrInvalidResponse)
	case resp.Candidates[0].FinishReason == genai.FinishReasonSafety:
		return "", ErrContentBlocked
	case resp.Candidates[0].Content == nil:
		return "", fmt.Errorf("%w: empty content", ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: no text parts", ErrInvalidResponse)
	}
	return b.String(), nil
}
