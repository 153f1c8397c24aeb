// Package console is an interactive terminal for driving a bot by hand.
// Every line typed is dispatched as an inbound message and the replies the
// modules produce are shown as cards.
package console

import (
	"context"
	"fmt"
	"sync"

	"klbot/pkg/bot"
	"klbot/pkg/message"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const channelName = "console"

// Dispatcher is the part of a bot the console drives.
type Dispatcher interface {
	Simulate(ctx context.Context, msg message.Message)
	Diagnostics() bot.Diagnostics
	ModuleCount() int
}

// Outbox is a bot server that never has inbound messages and keeps every
// reply until it is drained.
type Outbox struct {
	mu      sync.Mutex
	replies []message.Outbound
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Fetch(context.Context) ([]message.Message, error) {
	return nil, nil
}

func (o *Outbox) Send(_ context.Context, out message.Outbound) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.replies = append(o.replies, out)
	return nil
}

// Drain returns and forgets the replies sent so far.
func (o *Outbox) Drain() []message.Outbound {
	o.mu.Lock()
	defer o.mu.Unlock()

	replies := o.replies
	o.replies = nil
	return replies
}

// Identity is who the console speaks as and where.
type Identity struct {
	SelfID   int64
	SenderID int64
	GroupID  int64
}

func Run(ctx context.Context, d Dispatcher, outbox *Outbox, who Identity) error {
	program := tea.NewProgram(newModel(ctx, d, outbox, who))
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("88")).
		Padding(1, 2)

	return style.Render("KLBot console closed")
}
