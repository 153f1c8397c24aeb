package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"klbot/pkg/config"
	"klbot/pkg/message"
	"klbot/pkg/state"

	"github.com/openai/openai-go/v3/option"
	sdk "github.com/sst/opencode-sdk-go"
)

const selfID int64 = 999

type fakeBackend struct {
	created  []string
	prompts  []string
	reply    string
	replyErr error
}

func (f *fakeBackend) NewConversation(_ context.Context, title string) (string, error) {
	f.created = append(f.created, title)
	return fmt.Sprintf("conv-%d", len(f.created)), nil
}

func (f *fakeBackend) Reply(_ context.Context, conversationID string, prompt string) (string, error) {
	f.prompts = append(f.prompts, conversationID+"|"+prompt)
	if f.replyErr != nil {
		return "", f.replyErr
	}
	return f.reply, nil
}

func textMessage(ctx message.Context, sender int64, target int64, text string, mentions ...int64) message.Message {
	msg := message.NewText(ctx, sender, target, text)
	msg.Channel = "telegram"
	msg.Mentions = mentions
	return msg
}

func TestFilterPayload(t *testing.T) {
	m := New(&fakeBackend{}, selfID)

	tests := []struct {
		name string
		msg  message.Message
		want string
	}{
		{name: "direct to bot", msg: textMessage(message.Direct, 1, selfID, "hi"), want: outcomeChat},
		{name: "group mention", msg: textMessage(message.Group, 1, -100, "@kl_bot hi", selfID), want: outcomeChat},
		{name: "group without mention", msg: textMessage(message.Group, 1, -100, "hi"), want: ""},
		{name: "mention of someone else", msg: textMessage(message.Group, 1, -100, "@bob hi", 5), want: ""},
		{name: "blank", msg: textMessage(message.Direct, 1, selfID, "  "), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := tt.msg.Payload.(message.Text)
			if got := m.FilterPayload(tt.msg, payload); got != tt.want {
				t.Fatalf("FilterPayload = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterPayloadWithoutSelfID(t *testing.T) {
	m := New(&fakeBackend{}, 0)
	msg := textMessage(message.Direct, 1, 0, "hi")
	if got := m.FilterPayload(msg, msg.Payload.(message.Text)); got != "" {
		t.Fatalf("FilterPayload = %q, want empty", got)
	}
}

func TestProcessPayloadKeepsConversationPerChat(t *testing.T) {
	backend := &fakeBackend{reply: "hello there"}
	m := New(backend, selfID)
	ctx := context.Background()

	first := textMessage(message.Group, 1, -100, "@kl_bot how are you", selfID)
	got, err := m.ProcessPayload(ctx, first, first.Payload.(message.Text), outcomeChat)
	if err != nil {
		t.Fatalf("ProcessPayload error: %v", err)
	}
	if got != "hello there" {
		t.Fatalf("reply = %q, want %q", got, "hello there")
	}

	second := textMessage(message.Group, 2, -100, "and you @kl_bot", selfID)
	if _, err := m.ProcessPayload(ctx, second, second.Payload.(message.Text), outcomeChat); err != nil {
		t.Fatalf("ProcessPayload error: %v", err)
	}

	direct := textMessage(message.Direct, 3, selfID, "hey")
	if _, err := m.ProcessPayload(ctx, direct, direct.Payload.(message.Text), outcomeChat); err != nil {
		t.Fatalf("ProcessPayload error: %v", err)
	}

	wantCreated := []string{"klbot:telegram:group:-100", "klbot:telegram:direct:3"}
	if strings.Join(backend.created, ",") != strings.Join(wantCreated, ",") {
		t.Fatalf("created = %v, want %v", backend.created, wantCreated)
	}

	wantPrompts := []string{"conv-1|how are you", "conv-1|and you", "conv-2|hey"}
	if strings.Join(backend.prompts, ",") != strings.Join(wantPrompts, ",") {
		t.Fatalf("prompts = %v, want %v", backend.prompts, wantPrompts)
	}

	status := state.ExportStatus(m)
	if status["Replies"] != int64(3) {
		t.Fatalf("Replies = %v, want 3", status["Replies"])
	}
	if _, ok := state.VisibleStatus(m)["Conversations"]; ok {
		t.Fatal("Conversations should be hidden")
	}
}

func TestConversationsSurviveReload(t *testing.T) {
	backend := &fakeBackend{reply: "ok"}
	m := New(backend, selfID)

	if _, err := state.LoadJSON(m, []byte(`{"Conversations":{"telegram:direct:3":"conv-saved"},"Replies":7}`)); err != nil {
		t.Fatalf("LoadJSON error: %v", err)
	}

	msg := textMessage(message.Direct, 3, selfID, "again")
	if _, err := m.ProcessPayload(context.Background(), msg, msg.Payload.(message.Text), outcomeChat); err != nil {
		t.Fatalf("ProcessPayload error: %v", err)
	}

	if len(backend.created) != 0 {
		t.Fatalf("created = %v, want none", backend.created)
	}
	if backend.prompts[0] != "conv-saved|again" {
		t.Fatalf("prompt = %q, want conv-saved|again", backend.prompts[0])
	}
	if m.replies != 8 {
		t.Fatalf("replies = %d, want 8", m.replies)
	}
}

func TestProcessPayloadErrors(t *testing.T) {
	msg := textMessage(message.Direct, 3, selfID, "hi")

	m := New(nil, selfID)
	if _, err := m.ProcessPayload(context.Background(), msg, msg.Payload.(message.Text), outcomeChat); err == nil {
		t.Fatal("expected error without backend")
	}

	m = New(&fakeBackend{replyErr: errors.New("rate limited")}, selfID)
	_, err := m.ProcessPayload(context.Background(), msg, msg.Payload.(message.Text), outcomeChat)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("error = %v, want rate limited", err)
	}
	if m.replies != 0 {
		t.Fatalf("replies = %d, want 0", m.replies)
	}
}

func TestPlainReply(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: " hi ", want: "hi"},
		{input: `\image:\url:http://x/y.png`, want: `image:\url:http://x/y.png`},
		{input: "use {face:smile} here", want: "use ｛face:smile｝ here"},
	}

	for _, tt := range tests {
		if got := plainReply(tt.input); got != tt.want {
			t.Fatalf("plainReply(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestStripMentions(t *testing.T) {
	if got := stripMentions("@kl_bot  what is   up @someone"); got != "what is up" {
		t.Fatalf("stripMentions = %q", got)
	}
}

func TestNewBackend(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	backend, err := NewBackend(config.ChatModuleConfig{}, config.ProvidersConfig{})
	if err != nil {
		t.Fatalf("NewBackend default error: %v", err)
	}
	if _, ok := backend.(*OpenAIBackend); !ok {
		t.Fatalf("default backend = %T, want *OpenAIBackend", backend)
	}

	backend, err = NewBackend(config.ChatModuleConfig{Backend: "OpenCode"}, config.ProvidersConfig{
		OpenCode: config.OpenCodeProviderConfig{BaseURL: "http://127.0.0.1:4096"},
	})
	if err != nil {
		t.Fatalf("NewBackend opencode error: %v", err)
	}
	if _, ok := backend.(*OpenCodeBackend); !ok {
		t.Fatalf("opencode backend = %T, want *OpenCodeBackend", backend)
	}

	if _, err := NewBackend(config.ChatModuleConfig{Backend: "unknown"}, config.ProvidersConfig{}); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestNewOpenAIBackendRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := NewOpenAIBackend(config.OpenAIProviderConfig{}, "", ""); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestNewOpenAIBackendUsesConfiguredAPIKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TEST_OPENAI_API_KEY", "sk-test")

	backend, err := NewOpenAIBackend(config.OpenAIProviderConfig{APIKeyEnv: "TEST_OPENAI_API_KEY"}, "openai/gpt-5.2", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if backend.model != "gpt-5.2" {
		t.Fatalf("model = %q, want gpt-5.2", backend.model)
	}
}

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain model", input: "gpt-5.2", want: "gpt-5.2"},
		{name: "openai prefix", input: "openai/gpt-5.2", want: "gpt-5.2"},
		{name: "default", input: " ", want: defaultOpenAIModel},
		{name: "other provider", input: "anthropic/claude", wantErr: true},
		{name: "empty model", input: "openai/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeModel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeModel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("normalizeModel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestOpenAIBackendAgainstServer(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	var replyBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/conversations"):
			_, _ = io.WriteString(w, `{"id":"conv_1","object":"conversation","created_at":1,"metadata":{}}`)
		case strings.HasSuffix(r.URL.Path, "/responses"):
			_ = json.NewDecoder(r.Body).Decode(&replyBody)
			_, _ = io.WriteString(w, `{"id":"resp_1","object":"response","output":[{"type":"message","id":"msg_1","role":"assistant","status":"completed","content":[{"type":"output_text","text":"pong","annotations":[]}]}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	backend, err := NewOpenAIBackend(config.OpenAIProviderConfig{BaseURL: server.URL + "/v1"}, "gpt-5.2", "be brief", option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("NewOpenAIBackend error: %v", err)
	}

	ctx := context.Background()
	id, err := backend.NewConversation(ctx, "klbot:test")
	if err != nil {
		t.Fatalf("NewConversation error: %v", err)
	}
	if id != "conv_1" {
		t.Fatalf("conversation id = %q, want conv_1", id)
	}

	reply, err := backend.Reply(ctx, id, "ping")
	if err != nil {
		t.Fatalf("Reply error: %v", err)
	}
	if reply != "pong" {
		t.Fatalf("reply = %q, want pong", reply)
	}
	if replyBody["instructions"] != "be brief" || replyBody["input"] != "ping" {
		t.Fatalf("request body = %v", replyBody)
	}
}

func TestNewOpenCodeBackendRequiresBaseURL(t *testing.T) {
	if _, err := NewOpenCodeBackend(config.OpenCodeProviderConfig{}, "", ""); err == nil {
		t.Fatal("expected error when base_url is missing")
	}
}

func TestOpenCodePromptParts(t *testing.T) {
	backend, err := NewOpenCodeBackend(config.OpenCodeProviderConfig{BaseURL: "http://127.0.0.1:4096"}, "openai/gpt-5.2", "be brief")
	if err != nil {
		t.Fatalf("NewOpenCodeBackend error: %v", err)
	}
	if backend.providerID != "openai" || backend.modelID != "gpt-5.2" {
		t.Fatalf("model = %s/%s", backend.providerID, backend.modelID)
	}

	if parts := backend.promptParts("hi"); len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}

	backend.instructions = ""
	if parts := backend.promptParts("hi"); len(parts) != 1 {
		t.Fatalf("parts = %d, want 1", len(parts))
	}
}

func TestParseModelRef(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantOK     bool
		wantProvID string
		wantModel  string
	}{
		{name: "valid", input: "openai/gpt-5.2", wantOK: true, wantProvID: "openai", wantModel: "gpt-5.2"},
		{name: "missing slash", input: "gpt-5.2", wantOK: false},
		{name: "empty provider", input: "/gpt-5.2", wantOK: false},
		{name: "empty model", input: "openai/", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provID, modelID, ok := parseModelRef(tt.input)
			if ok != tt.wantOK || provID != tt.wantProvID || modelID != tt.wantModel {
				t.Fatalf("parseModelRef(%q) = %q, %q, %v", tt.input, provID, modelID, ok)
			}
		})
	}
}

func TestExtractText(t *testing.T) {
	parts := []sdk.Part{
		{Type: sdk.PartTypeReasoning, Text: "should be ignored"},
		{Type: sdk.PartTypeText, Text: "  first line  "},
		{Type: sdk.PartTypeText, Text: ""},
		{Type: sdk.PartTypeText, Text: "second line"},
	}

	if got := extractText(parts); got != "first line\nsecond line" {
		t.Fatalf("extractText() = %q", got)
	}
}

func TestBuildBasicAuthHeader(t *testing.T) {
	t.Setenv("TEST_OPENCODE_PASSWORD", "secret")

	header, ok := buildBasicAuthHeader(config.OpenCodeProviderConfig{PasswordEnv: "TEST_OPENCODE_PASSWORD"})
	if !ok {
		t.Fatal("expected basic auth header")
	}
	if !strings.HasPrefix(header, "Basic ") {
		t.Fatalf("unexpected header prefix: %q", header)
	}

	t.Setenv("TEST_OPENCODE_PASSWORD", "")
	if _, ok := buildBasicAuthHeader(config.OpenCodeProviderConfig{PasswordEnv: "TEST_OPENCODE_PASSWORD"}); ok {
		t.Fatal("expected no basic auth header")
	}
}
