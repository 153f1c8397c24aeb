package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"klbot/pkg/config"

	sdk "github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"
)

// OpenCodeBackend talks to an opencode server, one session per conversation.
type OpenCodeBackend struct {
	client         *sdk.Client
	providerID     string
	modelID        string
	instructions   string
	requestTimeout time.Duration
}

func NewOpenCodeBackend(cfg config.OpenCodeProviderConfig, model string, instructions string) (*OpenCodeBackend, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("providers.opencode.base_url is required")
	}

	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if authHeader, ok := buildBasicAuthHeader(cfg); ok {
		opts = append(opts, option.WithHeader("Authorization", authHeader))
	}

	backend := &OpenCodeBackend{
		client:         sdk.NewClient(opts...),
		instructions:   strings.TrimSpace(instructions),
		requestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}
	backend.providerID, backend.modelID, _ = parseModelRef(model)

	return backend, nil
}

func (b *OpenCodeBackend) NewConversation(ctx context.Context, title string) (string, error) {
	ctx, cancel := withTimeout(ctx, b.requestTimeout)
	defer cancel()
	req := startRequest("chat.opencode", "new_conversation", "title", title)

	params := sdk.SessionNewParams{}
	if strings.TrimSpace(title) != "" {
		params.Title = sdk.F(strings.TrimSpace(title))
	}

	session, err := b.client.Session.New(ctx, params)
	if err != nil {
		req.failed(err)
		return "", fmt.Errorf("create session: %w", err)
	}
	if session.ID == "" {
		req.failed("empty session id")
		return "", errors.New("create session returned empty id")
	}
	req.completed("session_id", session.ID)

	return session.ID, nil
}

// Reply sends the instructions along with every prompt.
func (b *OpenCodeBackend) Reply(ctx context.Context, conversationID string, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, b.requestTimeout)
	defer cancel()
	req := startRequest("chat.opencode", "reply", "session_id", conversationID, "prompt_length", len(prompt))

	params := sdk.SessionPromptParams{Parts: sdk.F(b.promptParts(prompt))}
	if b.providerID != "" {
		params.Model = sdk.F(sdk.SessionPromptParamsModel{
			ProviderID: sdk.F(b.providerID),
			ModelID:    sdk.F(b.modelID),
		})
	}

	response, err := b.client.Session.Prompt(ctx, conversationID, params)
	if err != nil {
		req.failed(err)
		return "", fmt.Errorf("request reply: %w", err)
	}

	text := extractText(response.Parts)
	if text == "" {
		req.failed("no text parts")
		return "", errors.New("reply contained no text parts")
	}
	req.completed(
		"response_length", len(text),
		"input_tokens", tokenCount(response.Info.Tokens.Input),
		"output_tokens", tokenCount(response.Info.Tokens.Output),
	)

	return text, nil
}

func (b *OpenCodeBackend) promptParts(prompt string) []sdk.SessionPromptParamsPartUnion {
	var parts []sdk.SessionPromptParamsPartUnion
	if b.instructions != "" {
		parts = append(parts, sdk.TextPartInputParam{
			Type: sdk.F(sdk.TextPartInputTypeText),
			Text: sdk.F(b.instructions),
		})
	}

	return append(parts, sdk.TextPartInputParam{
		Type: sdk.F(sdk.TextPartInputTypeText),
		Text: sdk.F(prompt),
	})
}

func buildBasicAuthHeader(cfg config.OpenCodeProviderConfig) (string, bool) {
	passwordEnv := strings.TrimSpace(cfg.PasswordEnv)
	if passwordEnv == "" {
		return "", false
	}

	password := strings.TrimSpace(os.Getenv(passwordEnv))
	if password == "" {
		return "", false
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = "opencode"
	}

	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return "Basic " + token, true
}

// parseModelRef splits "provider/model".
func parseModelRef(input string) (providerID string, modelID string, ok bool) {
	providerID, modelID, found := strings.Cut(strings.TrimSpace(input), "/")
	if !found {
		return "", "", false
	}

	providerID, modelID = strings.TrimSpace(providerID), strings.TrimSpace(modelID)
	if providerID == "" || modelID == "" {
		return "", "", false
	}

	return providerID, modelID, true
}

func extractText(parts []sdk.Part) string {
	var lines []string
	for _, part := range parts {
		if part.Type != sdk.PartTypeText {
			continue
		}
		if text := strings.TrimSpace(part.Text); text != "" {
			lines = append(lines, text)
		}
	}

	return strings.Join(lines, "\n")
}

func tokenCount(value float64) int64 {
	if value <= 0 {
		return 0
	}

	return int64(math.Round(value))
}
