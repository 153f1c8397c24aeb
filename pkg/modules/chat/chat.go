// Package chat implements the chatter module: it answers messages addressed to
// the bot through a conversational backend.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"klbot/pkg/message"
	"klbot/pkg/module"
	"klbot/pkg/state"
)

const outcomeChat = "chat"

var markupReplacer = strings.NewReplacer("{", "｛", "}", "｝")

// Module replies to direct messages and group mentions of the bot. Each chat
// keeps its own backend conversation; the mapping survives restarts as
// hidden status.
type Module struct {
	*module.Base

	backend Backend

	selfID        int64
	replies       int64
	conversations map[string]string
}

// New returns a chat module answering on behalf of selfID.
func New(backend Backend, selfID int64) *Module {
	return &Module{
		Base:          module.NewBase(),
		backend:       backend,
		selfID:        selfID,
		conversations: make(map[string]string),
	}
}

func (m *Module) Name() string { return "ChatModule" }

func (m *Module) UseSignature() bool { return false }

func (m *Module) Fields() []state.Field {
	return append(m.Base.Fields(),
		state.Status("Replies", &m.replies),
		state.HiddenStatus("Conversations", &m.conversations),
		state.Setup("SelfID", &m.selfID),
	)
}

func (m *Module) FilterPayload(msg message.Message, payload message.Text) string {
	if m.selfID == 0 || strings.TrimSpace(payload.Text) == "" {
		return ""
	}

	if msg.Context == message.Direct && msg.TargetID == m.selfID {
		return outcomeChat
	}
	if msg.Mentioned(m.selfID) {
		return outcomeChat
	}

	return ""
}

func (m *Module) ProcessPayload(ctx context.Context, msg message.Message, payload message.Text, _ string) (string, error) {
	if m.backend == nil {
		return "", errors.New("chat backend is not configured")
	}

	prompt := stripMentions(payload.Text)
	if prompt == "" {
		return "", nil
	}

	key := conversationKey(msg)
	conversationID, err := m.conversation(ctx, key)
	if err != nil {
		return "", err
	}

	reply, err := m.backend.Reply(ctx, conversationID, prompt)
	if err != nil {
		return "", fmt.Errorf("reply in %s: %w", key, err)
	}

	m.replies++
	return plainReply(reply), nil
}

func (m *Module) conversation(ctx context.Context, key string) (string, error) {
	if m.conversations == nil {
		m.conversations = make(map[string]string)
	}
	if id, ok := m.conversations[key]; ok {
		return id, nil
	}

	id, err := m.backend.NewConversation(ctx, "klbot:"+key)
	if err != nil {
		return "", fmt.Errorf("start conversation for %s: %w", key, err)
	}

	m.Logger().Debug("Started conversation", "key", key, "conversation_id", id)
	m.conversations[key] = id
	return id, nil
}

// conversationKey identifies the chat a message belongs to.
func conversationKey(msg message.Message) string {
	return fmt.Sprintf("%s:%s:%d", msg.Channel, msg.Context, msg.ReplyTarget())
}

// stripMentions drops @handles so the backend sees only the question.
func stripMentions(text string) string {
	words := strings.Fields(text)
	kept := words[:0]
	for _, word := range words {
		if strings.HasPrefix(word, "@") {
			continue
		}
		kept = append(kept, word)
	}

	return strings.Join(kept, " ")
}

// plainReply keeps generated text out of the marker language.
func plainReply(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimLeft(text, "\\")
	return markupReplacer.Replace(text)
}
