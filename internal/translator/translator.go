// Package translator suggests translations for slide text using a chat
// model. Suggestions are written into the translation overlay; the parsed
// source text is never modified.
package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/text/language"

	"pptx-processor/internal/logger"
	"pptx-processor/internal/types"
)

// batchCharBudget bounds how much shape text goes into one model call.
const batchCharBudget = 4000

const systemPrompt = `You are a professional presentation translator. You receive a JSON object mapping shape identifiers to the text of shapes on presentation slides.

Translate every value into the requested target language. Rules:
1. Preserve line breaks exactly: a newline in the source must stay a newline in the translation.
2. Keep numbers, code, URLs, and proper nouns unchanged unless the target language has an established form.
3. Keep the translation concise; slide text must stay readable at its original size.
4. Respond with ONLY a JSON object using the same keys, no commentary and no code fences.`

// ShapeText is one translatable shape.
type ShapeText struct {
	ShapeID string
	Text    string
}

// Suggester produces translation suggestions through a chat model.
type Suggester struct {
	chatModel model.BaseChatModel
	modelName string
}

// NewSuggester builds a Suggester backed by an OpenAI-compatible endpoint.
func NewSuggester(ctx context.Context, cfg *types.Config) (*Suggester, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, types.NewAppError(types.ErrConfig, "translation requires an API key", nil)
	}

	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:   cfg.OpenAIModel,
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrConfig, "failed to create chat model", err)
	}

	logger.Info("translation suggester initialized", logger.String("model", cfg.OpenAIModel))
	return &Suggester{chatModel: chatModel, modelName: cfg.OpenAIModel}, nil
}

// NewSuggesterWithModel builds a Suggester around an existing chat model.
func NewSuggesterWithModel(chatModel model.BaseChatModel) *Suggester {
	return &Suggester{chatModel: chatModel}
}

// ValidateLanguage checks that the target language is a well-formed BCP 47
// tag and returns its canonical form.
func ValidateLanguage(targetLang string) (string, error) {
	tag, err := language.Parse(targetLang)
	if err != nil {
		return "", types.NewAppErrorWithDetails(types.ErrInvalidInput,
			"invalid target language", targetLang, err)
	}
	return tag.String(), nil
}

// Suggest translates the given shapes into targetLang, batching model
// calls by text volume. Shapes with empty text are skipped. A failure in
// one batch fails the whole suggestion run; partial overlays are worse
// than none.
func (s *Suggester) Suggest(ctx context.Context, shapes []ShapeText, targetLang string) (map[string]string, error) {
	canonical, err := ValidateLanguage(targetLang)
	if err != nil {
		return nil, err
	}

	var pending []ShapeText
	for _, shape := range shapes {
		if strings.TrimSpace(shape.Text) != "" {
			pending = append(pending, shape)
		}
	}
	if len(pending) == 0 {
		return map[string]string{}, nil
	}

	out := make(map[string]string, len(pending))
	for _, batch := range splitBatches(pending, batchCharBudget) {
		translated, err := s.translateBatch(ctx, batch, canonical)
		if err != nil {
			return nil, err
		}
		for id, text := range translated {
			out[id] = text
		}
	}

	logger.Info("translation suggestions generated",
		logger.String("targetLang", canonical),
		logger.Int("shapes", len(out)))
	return out, nil
}

// translateBatch sends one batch through the model and parses the JSON
// response back into a shape overlay.
func (s *Suggester) translateBatch(ctx context.Context, batch []ShapeText, targetLang string) (map[string]string, error) {
	payload := make(map[string]string, len(batch))
	for _, shape := range batch {
		payload[shape.ShapeID] = shape.Text
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewAppError(types.ErrInternal, "failed to encode translation request", err)
	}

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(fmt.Sprintf("Target language: %s\n\n%s", targetLang, string(body))),
	}

	response, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, types.NewAppError(types.ErrTranslation, "chat model call failed", err)
	}

	translated, err := parseResponse(response.Content)
	if err != nil {
		return nil, err
	}

	// Drop hallucinated keys; only requested shapes enter the overlay.
	out := make(map[string]string, len(batch))
	for _, shape := range batch {
		if text, ok := translated[shape.ShapeID]; ok && text != "" {
			out[shape.ShapeID] = text
		}
	}
	if len(out) == 0 {
		return nil, types.NewAppError(types.ErrTranslation, "model returned no usable translations", nil)
	}
	return out, nil
}

// parseResponse extracts the JSON object from the model output, tolerating
// code fences some models insist on.
func parseResponse(content string) (map[string]string, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	var out map[string]string
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrTranslation,
			"model response is not valid JSON", truncate(content, 200), err)
	}
	return out, nil
}

// splitBatches groups shapes so each batch stays under the char budget.
// A single oversized shape still gets its own batch.
func splitBatches(shapes []ShapeText, budget int) [][]ShapeText {
	var batches [][]ShapeText
	var current []ShapeText
	size := 0

	for _, shape := range shapes {
		if len(current) > 0 && size+len(shape.Text) > budget {
			batches = append(batches, current)
			current = nil
			size = 0
		}
		current = append(current, shape)
		size += len(shape.Text)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
