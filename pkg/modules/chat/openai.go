package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"klbot/pkg/config"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/conversations"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIBackend talks to the Responses API, keeping context in server-side
// conversations.
type OpenAIBackend struct {
	client         osdk.Client
	model          string
	instructions   string
	requestTimeout time.Duration
}

func NewOpenAIBackend(cfg config.OpenAIProviderConfig, model string, instructions string, extra ...option.RequestOption) (*OpenAIBackend, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	normalized, err := normalizeModel(model)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return &OpenAIBackend{
		client:         osdk.NewClient(append(opts, extra...)...),
		model:          normalized,
		instructions:   strings.TrimSpace(instructions),
		requestTimeout: requestTimeout,
	}, nil
}

func (b *OpenAIBackend) NewConversation(ctx context.Context, title string) (string, error) {
	ctx, cancel := withTimeout(ctx, b.requestTimeout)
	defer cancel()
	req := startRequest("chat.openai", "new_conversation", "title", title)

	conversation, err := b.client.Conversations.New(ctx, conversations.ConversationNewParams{})
	if err != nil {
		req.failed(err)
		return "", fmt.Errorf("create conversation: %w", err)
	}

	id := strings.TrimSpace(conversation.ID)
	if id == "" {
		req.failed("empty conversation id")
		return "", errors.New("create conversation returned empty id")
	}
	req.completed("conversation_id", id)

	return id, nil
}

func (b *OpenAIBackend) Reply(ctx context.Context, conversationID string, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, b.requestTimeout)
	defer cancel()
	req := startRequest("chat.openai", "reply", "conversation_id", conversationID, "model", b.model, "prompt_length", len(prompt))

	params := responses.ResponseNewParams{
		Model: b.model,
		Input: responses.ResponseNewParamsInputUnion{OfString: osdk.String(prompt)},
		Conversation: responses.ResponseNewParamsConversationUnion{
			OfConversationObject: &responses.ResponseConversationParam{ID: conversationID},
		},
	}
	if b.instructions != "" {
		params.Instructions = osdk.String(b.instructions)
	}

	response, err := b.client.Responses.New(ctx, params)
	if err != nil {
		req.failed(err)
		return "", fmt.Errorf("request reply: %w", err)
	}

	text := strings.TrimSpace(response.OutputText())
	if text == "" {
		req.failed("no output text")
		return "", errors.New("reply contained no text")
	}
	req.completed("response_length", len(text))

	return text, nil
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

// normalizeModel accepts a bare model or an "openai/" qualified one.
func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return defaultOpenAIModel, nil
	}

	providerID, modelID, found := strings.Cut(model, "/")
	if !found {
		return model, nil
	}

	providerID, modelID = strings.TrimSpace(providerID), strings.TrimSpace(modelID)
	if providerID == "" || modelID == "" {
		return "", fmt.Errorf("model %q is invalid", model)
	}
	if providerID != BackendOpenAI {
		return "", fmt.Errorf("model provider %q is not supported by the openai backend", providerID)
	}

	return modelID, nil
}
