package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// approximate per-token USD pricing used only for telemetry estimates; not
// billing-accurate, mirrors the original implementation's static cost
// table in cost_tracker.py's callers.
const (
	costPerPromptTokenUSD     = 0.00000015
	costPerCompletionTokenUSD = 0.0000006
	costPerEmbedTokenUSD      = 0.00000002
)

// OpenAIClient adapts the OpenAI Go SDK to the Client capability
// interface, grounded in ai/providers/openaiv2/api.OpenAIApi's client
// construction pattern (openai.NewClient(option.WithAPIKey(...))) and
// thin passthrough methods.
type OpenAIClient struct {
	client *openai.Client
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{client: &client}
}

var _ Client = (*OpenAIClient)(nil)

func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       req.Model,
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ResponseFormat == ResponseFormatJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("llm: chat completion returned no choices")
	}

	promptTokens := int(resp.Usage.PromptTokens)
	completionTokens := int(resp.Usage.CompletionTokens)

	return ChatResponse{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Cost:             estimateChatCost(promptTokens, completionTokens),
	}, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, model string, texts []string) (EmbedResponse, error) {
	if len(texts) == 0 {
		return EmbedResponse{}, nil
	}

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return EmbedResponse{}, fmt.Errorf("llm: create embeddings: %w", err)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}

	promptTokens := int(resp.Usage.PromptTokens)
	return EmbedResponse{
		Vectors:      vectors,
		PromptTokens: promptTokens,
		Cost:         float64(promptTokens) * costPerEmbedTokenUSD,
	}, nil
}

func estimateChatCost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*costPerPromptTokenUSD + float64(completionTokens)*costPerCompletionTokenUSD
}
