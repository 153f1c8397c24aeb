package channel

import (
	"context"

	"klbot/pkg/message"
)

// Publisher hands one inbound message to the bot. It reports false when the
// message could not be queued.
type Publisher func(context.Context, message.Message) bool

// Adapter bridges one external chat transport (for example Telegram) into the bot.
type Adapter interface {
	Name() string
	// Run receives messages until ctx ends.
	Run(context.Context, Publisher) error
	// Deliver sends one reply produced by a module.
	Deliver(context.Context, message.Outbound) error
}
