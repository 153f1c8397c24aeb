package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"klbot/pkg/message"
	"klbot/pkg/module"
	"klbot/pkg/state"
)

const commandModuleName = "CommandModule"

// commandModule answers administrative commands such as `##help` or
// `##followmod enabled`. It is created and owned by a Bot.
type commandModule struct {
	*module.Base
	bot    *Bot
	prefix string
}

func newCommandModule(b *Bot, prefix string) *commandModule {
	return &commandModule{Base: module.NewBase(), bot: b, prefix: prefix}
}

func (c *commandModule) Name() string { return commandModuleName }

func (c *commandModule) Fields() []state.Field {
	return append(c.Base.Fields(), state.Setup("Prefix", &c.prefix))
}

func (c *commandModule) FilterPayload(_ message.Message, payload message.Text) string {
	if c.prefix == "" || !strings.HasPrefix(strings.TrimSpace(payload.Text), c.prefix) {
		return ""
	}

	return "command"
}

func (c *commandModule) ProcessPayload(_ context.Context, _ message.Message, payload message.Text, _ string) (string, error) {
	line := strings.TrimPrefix(strings.TrimSpace(payload.Text), c.prefix)
	name, rest := cutWord(line)

	switch strings.ToLower(name) {
	case "":
		return "", nil
	case "help":
		return c.help(), nil
	case "status":
		return c.bot.StatusReport(), nil
	case "diag":
		return formatDiagnostics(c.bot.Diagnostics()), nil
	}

	target, err := c.bot.Module(name)
	if err != nil {
		c.Logger().Debug("unknown command", "command", name)
		return "", nil
	}

	field, raw := cutWord(rest)
	if field == "" {
		return "", nil
	}

	return c.setField(target, field, raw), nil
}

func (c *commandModule) help() string {
	lines := []string{
		"commands:",
		c.prefix + "help - list commands",
		c.prefix + "status - show module status",
		c.prefix + "diag - show dispatch counters",
		c.prefix + "<module> <field> - toggle a switch, e.g. " + c.prefix + "followmod enabled",
		c.prefix + "<module> <field> <json> - set a status value",
	}

	return strings.Join(lines, "\n")
}

// setField toggles a boolean field when raw is empty and assigns the decoded
// JSON value otherwise. Hidden and setup fields are not reachable.
func (c *commandModule) setField(target module.Module, field string, raw string) string {
	visible := state.VisibleStatus(target)

	name := ""
	for key := range visible {
		if strings.EqualFold(key, field) {
			name = key
			break
		}
	}
	if name == "" {
		c.Logger().Debug("unknown status field", "target", target.ID(), "field", field)
		return ""
	}

	var value any
	if raw == "" {
		current, ok := visible[name].(bool)
		if !ok {
			return fmt.Sprintf("%s.%s is not a switch, give a value", target.ID(), name)
		}
		value = !current
	} else if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	if target == c.bot.commands && name == "Enabled" && value == false {
		return "the command module cannot be disabled"
	}

	doc, err := json.Marshal(map[string]any{name: value})
	if err != nil {
		return fmt.Sprintf("cannot encode value: %v", err)
	}
	if _, err := state.LoadJSON(target, doc); err != nil {
		return fmt.Sprintf("cannot set %s.%s: %v", target.ID(), name, err)
	}

	return fmt.Sprintf("%s.%s = %s", target.ID(), name, formatValue(state.VisibleStatus(target)[name]))
}

// StatusReport lists the visible status of every module.
func (b *Bot) StatusReport() string {
	var sb strings.Builder
	for i, m := range b.Modules() {
		if i > 0 {
			sb.WriteByte('\n')
		}

		status := state.VisibleStatus(m)
		keys := make([]string, 0, len(status))
		for key := range status {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		sb.WriteString(m.ID())
		for _, key := range keys {
			fmt.Fprintf(&sb, "\n  %s: %s", key, formatValue(status[key]))
		}
	}

	return sb.String()
}

func formatDiagnostics(d Diagnostics) string {
	return fmt.Sprintf("received: %d\nprocessed: %d\nsucceeded: %d\nsince: %s",
		d.ReceivedCount, d.ProcessedCount, d.SuccessCount, d.StartedAt.Format("2006-01-02 15:04:05 MST"))
}

func formatValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(data)
}

func cutWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	word, rest, _ := strings.Cut(s, " ")
	return word, strings.TrimSpace(rest)
}
