package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/nodecanvas-ai/canvas-engine/internal/model"
)

// OpenAIClient generates text via OpenAI chat completions.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI text client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return &OpenAIClient{client: openai.NewClient(apiKey)}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Modality returns the content kind this client produces.
func (c *OpenAIClient) Modality() Modality {
	return ModalityText
}

// Generate runs one chat completion with the merged context.
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	modelName := req.Model
	if modelName == "" {
		modelName = openai.GPT4TurboPreview
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	chat := flatten(req)
	messages := make([]openai.ChatCompletionMessage, len(chat))
	for i, msg := range chat {
		if len(msg.Images) > 0 {
			parts := []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: msg.Text},
			}
			for _, img := range msg.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: img.URL},
				})
			}
			messages[i] = openai.ChatCompletionMessage{
				Role:         msg.Role,
				MultiContent: parts,
			}
			continue
		}
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Text,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       modelName,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	var content, stopReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		stopReason = string(resp.Choices[0].FinishReason)
	}

	return &Result{
		Content:    model.TextContent(content),
		Model:      resp.Model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// OpenAIImageClient generates images via the OpenAI images endpoint.
type OpenAIImageClient struct {
	client *openai.Client
}

// NewOpenAIImageClient creates a new OpenAI image client.
func NewOpenAIImageClient(apiKey string) (*OpenAIImageClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return &OpenAIImageClient{client: openai.NewClient(apiKey)}, nil
}

// Name returns the provider name.
func (c *OpenAIImageClient) Name() string {
	return "openai"
}

// Modality returns the content kind this client produces.
func (c *OpenAIImageClient) Modality() Modality {
	return ModalityImage
}

// Generate creates one image from the flattened prompt text. Conversation
// history is folded into the prompt since the images endpoint is not chat
// shaped.
func (c *OpenAIImageClient) Generate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	modelName := req.Model
	if modelName == "" {
		modelName = openai.CreateImageModelDallE3
	}

	prompt := req.Instruction
	for _, msg := range flatten(req) {
		if msg.Role == string(model.RoleUser) && msg.Text != "" {
			prompt = msg.Text
		}
	}

	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          modelName,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty image response", ErrGenerationFailed)
	}

	return &Result{
		Content:   model.PartsContent(model.ImagePart(resp.Data[0].URL, "image/png")),
		Model:     modelName,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
