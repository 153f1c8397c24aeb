// Package follow implements a crowd-following responder for group chats.
//
// It joins a rally call ("上号") once per round, answers the cheer word with a
// crying face at most once per cooldown, and repeats a line that two members
// in a row have just said.
package follow

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"klbot/pkg/message"
	"klbot/pkg/module"
	"klbot/pkg/state"
)

const (
	OutcomeRally  = "rally"
	OutcomeCheer  = "cheer"
	OutcomeFollow = "follow"

	DefaultRallyWord = "上号"
	DefaultCheerWord = "蛤儿"
	DefaultCooldown  = 60 * time.Second

	rallyMaxRunes = 5
)

// Module tracks the last two lines seen and decides when to chime in.
type Module struct {
	*module.Base

	lastMsg   string
	last2Msg  string
	lastCheer time.Time

	cooldown  time.Duration
	rallyWord string
	cheerWord string

	now func() time.Time
}

// New returns a follow module with the default words and cooldown.
func New() *Module {
	return &Module{
		Base:      module.NewBase(),
		cooldown:  DefaultCooldown,
		rallyWord: DefaultRallyWord,
		cheerWord: DefaultCheerWord,
		now:       time.Now,
	}
}

func (m *Module) Name() string { return "FollowModule" }

// UseSignature is off: the module speaks as a member of the crowd.
func (m *Module) UseSignature() bool { return false }

func (m *Module) Fields() []state.Field {
	return append(m.Base.Fields(),
		state.HiddenStatus("LastMsg", &m.lastMsg),
		state.HiddenStatus("Last2Msg", &m.last2Msg),
		state.HiddenStatus("LastCheer", &m.lastCheer),
		state.Setup("Cooldown", &m.cooldown),
		state.Setup("RallyWord", &m.rallyWord),
		state.Setup("CheerWord", &m.cheerWord),
	)
}

// FilterPayload classifies the line and shifts it into the history. The
// history moves on every call, matched or not.
func (m *Module) FilterPayload(_ message.Message, payload message.Text) string {
	text := strings.TrimSpace(payload.Text)

	outcome := ""
	switch {
	case m.isRally(text) && !m.isRally(m.lastMsg):
		outcome = OutcomeRally
	case m.cheerWord != "" && strings.Contains(text, m.cheerWord) && m.now().Sub(m.lastCheer) > m.cooldown:
		outcome = OutcomeCheer
		m.lastCheer = m.now()
	case !m.isRally(m.lastMsg) && text == m.lastMsg && m.lastMsg != m.last2Msg:
		outcome = OutcomeFollow
	}

	m.last2Msg = m.lastMsg
	m.lastMsg = text
	return outcome
}

func (m *Module) ProcessPayload(_ context.Context, _ message.Message, payload message.Text, outcome string) (string, error) {
	text := strings.TrimSpace(payload.Text)

	switch outcome {
	case OutcomeRally, OutcomeFollow:
		return text, nil
	case OutcomeCheer:
		face := "{\\face:大哭}"
		return m.cheerWord + "，我的" + m.cheerWord + strings.Repeat(face, 3), nil
	default:
		return "", fmt.Errorf("unexpected filter outcome %q", outcome)
	}
}

func (m *Module) isRally(text string) bool {
	return m.rallyWord != "" && utf8.RuneCountInString(text) <= rallyMaxRunes && strings.Contains(text, m.rallyWord)
}
