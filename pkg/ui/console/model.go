package console

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"klbot/pkg/message"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type entry struct {
	role    string
	title   string
	content string
}

type dispatchResultMsg struct {
	replies []message.Outbound
}

type model struct {
	ctx        context.Context
	dispatcher Dispatcher
	outbox     *Outbox
	who        Identity

	msgContext message.Context
	mention    bool

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	isLoading bool
	followLog bool
}

func newModel(ctx context.Context, d Dispatcher, outbox *Outbox, who Identity) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Say something, or /help"
	in.Focus()
	in.CharLimit = 0

	if who.GroupID == 0 {
		who.GroupID = -1
	}
	if who.SenderID == 0 {
		who.SenderID = 1
	}

	return &model{
		ctx:        ctx,
		dispatcher: d,
		outbox:     outbox,
		who:        who,
		msgContext: message.Group,
		theme:      defaultTheme(),
		spinner:    spin,
		input:      in,
		viewport:   viewport.New(80, 12),
		width:      100,
		height:     28,
		followLog:  true,
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.handleViewportKey(typed) {
			return m, nil
		}

		if typed.String() == "enter" {
			if m.isLoading {
				return m, nil
			}

			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			if isExitCommand(line) {
				return m, tea.Quit
			}

			m.input.SetValue("")
			m.followLog = true
			if note, handled := m.applyCommand(line); handled {
				m.entries = append(m.entries, entry{role: "system", title: "console", content: note})
				m.refreshViewport(true)
				return m, nil
			}

			inbound := m.buildMessage(line)
			m.entries = append(m.entries, entry{role: "user", title: m.describeIdentity(), content: line})
			m.isLoading = true
			m.refreshViewport(true)
			return m, tea.Batch(m.spinner.Tick, dispatchCmd(m.ctx, m.dispatcher, m.outbox, inbound))
		}
	}

	m.input, cmd = m.input.Update(msg)

	switch typed := msg.(type) {
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case dispatchResultMsg:
		m.isLoading = false
		m.appendReplies(typed.replies)
		m.refreshViewport(false)
	}

	return m, cmd
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("KLBot console")
	diag := m.dispatcher.Diagnostics()
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"%s · modules:%d · received/processed/succeeded:%d/%d/%d",
		m.describeIdentity(),
		m.dispatcher.ModuleCount(),
		diag.ReceivedCount,
		diag.ProcessedCount,
		diag.SuccessCount,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("─", max(8, m.width-2)))

	status := m.theme.status.Render("Enter send · PgUp/PgDn scroll · End jump latest · Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s dispatching...", m.spinner.View()))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("You")+" "+m.theme.hint.Render("(/help for identity commands)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

// applyCommand handles console-local slash commands that change who is
// speaking. Bot commands pass through untouched.
func (m *model) applyCommand(line string) (string, bool) {
	if !strings.HasPrefix(line, "/") {
		return "", false
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "help":
		return strings.Join([]string{
			"/direct - talk to the bot privately",
			"/group [id] - talk in a group",
			"/as <id> - change the sender",
			"/mention - toggle mentioning the bot",
			"exit, quit or :q - leave",
		}, "\n"), true
	case "direct":
		m.msgContext = message.Direct
		return "now " + m.describeIdentity(), true
	case "group":
		if arg != "" {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return fmt.Sprintf("invalid group id %q", arg), true
			}
			m.who.GroupID = id
		}
		m.msgContext = message.Group
		return "now " + m.describeIdentity(), true
	case "as":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Sprintf("invalid sender id %q", arg), true
		}
		m.who.SenderID = id
		return "now " + m.describeIdentity(), true
	case "mention":
		m.mention = !m.mention
		return "now " + m.describeIdentity(), true
	default:
		return "", false
	}
}

func (m *model) buildMessage(text string) message.Message {
	target := m.who.GroupID
	if m.msgContext == message.Direct {
		target = m.who.SelfID
	}

	msg := message.NewText(m.msgContext, m.who.SenderID, target, text)
	msg.Channel = channelName
	if m.mention && m.who.SelfID != 0 {
		msg.Mentions = []int64{m.who.SelfID}
	}

	return msg
}

func (m *model) describeIdentity() string {
	where := fmt.Sprintf("group %d", m.who.GroupID)
	if m.msgContext == message.Direct {
		where = "direct"
	}

	desc := fmt.Sprintf("sender %d in %s", m.who.SenderID, where)
	if m.mention {
		desc += " @bot"
	}

	return desc
}

func (m *model) appendReplies(replies []message.Outbound) {
	if len(replies) == 0 {
		m.entries = append(m.entries, entry{role: "system", title: "console", content: "no module replied"})
		return
	}

	for _, reply := range replies {
		m.entries = append(m.entries, entry{role: "reply", title: reply.ModuleID, content: renderChain(reply.Chain)})
	}
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		switch item.role {
		case "user":
			sections = append(sections, m.renderCard(
				m.theme.userTitle.Render(item.title),
				m.theme.userBox.Width(m.viewport.Width).Render(item.content),
			))
		case "reply":
			sections = append(sections, m.renderCard(
				m.theme.replyTitle.Render(item.title),
				m.theme.replyBox.Width(m.viewport.Width).Render(item.content),
			))
		default:
			sections = append(sections, m.renderCard(
				m.theme.systemTitle.Render(item.title),
				m.theme.systemBox.Width(m.viewport.Width).Render(item.content),
			))
		}
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

// renderChain shows media as their sources, everything else as text.
func renderChain(chain message.Chain) string {
	var sb strings.Builder
	for _, elem := range chain.Elements {
		if elem.IsMedia() {
			fmt.Fprintf(&sb, "[%s %s]", strings.ToLower(string(elem.Type)), previewSource(elem))
			continue
		}
		sb.WriteString(message.NewChain(elem).PlainText())
	}

	return strings.TrimSpace(sb.String())
}

func previewSource(elem message.Element) string {
	if elem.Source == message.SourceBase64 {
		return fmt.Sprintf("base64, %d chars", len(elem.Value))
	}

	return elem.Value
}

func dispatchCmd(ctx context.Context, d Dispatcher, outbox *Outbox, msg message.Message) tea.Cmd {
	return func() tea.Msg {
		d.Simulate(ctx, msg)
		return dispatchResultMsg{replies: outbox.Drain()}
	}
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
