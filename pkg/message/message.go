package message

import (
	"fmt"
	"strings"
)

// Context is the routing context a message was received in.
type Context int

const (
	Direct Context = iota
	Group
	System
)

func (c Context) String() string {
	switch c {
	case Direct:
		return "direct"
	case Group:
		return "group"
	case System:
		return "system"
	default:
		return fmt.Sprintf("context(%d)", int(c))
	}
}

// ParseContext maps a context name back to its value.
func ParseContext(input string) (Context, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "direct", "private":
		return Direct, nil
	case "group":
		return Group, nil
	case "system":
		return System, nil
	default:
		return 0, fmt.Errorf("unknown message context %q", input)
	}
}

// PayloadKind names the variant carried by a message payload.
type PayloadKind string

const (
	KindText  PayloadKind = "text"
	KindChain PayloadKind = "chain"
)

// Payload is the closed set of inbound payload variants: Text or Chain.
type Payload interface {
	Kind() PayloadKind
	isPayload()
}

// Text is a plain text payload.
type Text struct {
	Text string
}

func (Text) Kind() PayloadKind { return KindText }
func (Text) isPayload()        {}

// Message is one inbound chat message. It is a value and is never mutated by the dispatcher.
type Message struct {
	ID       string
	Channel  string
	Context  Context
	SenderID int64
	TargetID int64
	Mentions []int64
	Payload  Payload
}

// NewText builds a text message with no channel or ID; relays fill those in.
func NewText(ctx Context, senderID int64, targetID int64, text string) Message {
	return Message{
		Context:  ctx,
		SenderID: senderID,
		TargetID: targetID,
		Payload:  Text{Text: text},
	}
}

// Mentioned reports whether id is tagged in the message.
func (m Message) Mentioned(id int64) bool {
	for _, mentioned := range m.Mentions {
		if mentioned == id {
			return true
		}
	}

	return false
}

// ReplyTarget returns the chat a reply should be sent to: the group for group
// messages, the sender otherwise.
func (m Message) ReplyTarget() int64 {
	if m.Context == Group {
		return m.TargetID
	}

	return m.SenderID
}

// PlainText renders the payload as text regardless of its variant.
func (m Message) PlainText() string {
	switch payload := m.Payload.(type) {
	case Text:
		return payload.Text
	case Chain:
		return payload.PlainText()
	default:
		return ""
	}
}

// Outbound is one message produced by a module, ready for a relay.
type Outbound struct {
	Channel  string
	Context  Context
	TargetID int64
	ReplyTo  string
	ModuleID string
	Chain    Chain
}

// ReplyTo builds an outbound message answering msg.
func ReplyTo(msg Message, moduleID string, chain Chain) Outbound {
	return Outbound{
		Channel:  msg.Channel,
		Context:  msg.Context,
		TargetID: msg.ReplyTarget(),
		ReplyTo:  msg.ID,
		ModuleID: moduleID,
		Chain:    chain,
	}
}
