package bot

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"klbot/pkg/bus"
	"klbot/pkg/faults"
	"klbot/pkg/marker"
	"klbot/pkg/message"
	"klbot/pkg/module"
	"klbot/pkg/state"
)

// FetchMessages drains the messages the server has queued.
func (b *Bot) FetchMessages(ctx context.Context) ([]message.Message, error) {
	msgs, err := b.server.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	return msgs, nil
}

// ProcessMessages dispatches a batch one message at a time, then schedules a
// save for every module whose status changed. Module faults are logged and
// isolated; the batch always runs to completion. Saves may still be running
// when it returns, see WaitSaved.
func (b *Bot) ProcessMessages(ctx context.Context, msgs []message.Message) {
	if len(msgs) == 0 {
		return
	}

	b.diag.received.Add(uint64(len(msgs)))
	for _, msg := range msgs {
		b.dispatch(ctx, msg)
	}

	b.autosave()
}

// Simulate dispatches one message as if it had been fetched.
func (b *Bot) Simulate(ctx context.Context, msg message.Message) {
	b.ProcessMessages(ctx, []message.Message{msg})
}

// WaitSaved blocks until every save scheduled so far has finished.
func (b *Bot) WaitSaved(ctx context.Context) error {
	return b.saver.Flush(ctx)
}

func (b *Bot) dispatch(ctx context.Context, msg message.Message) {
	b.publish(ctx, bus.Event{Type: bus.EventMessageReceived, Channel: msg.Channel, MessageID: msg.ID})

	matched, faulted := false, false
	for _, m := range b.Modules() {
		outcome, ok, err := shouldProcess(m, msg)
		if err != nil {
			faulted = true
			b.moduleFailed(ctx, m, msg, err)
			continue
		}
		if !ok {
			continue
		}

		if !matched {
			matched = true
			b.diag.processed.Add(1)
		}

		if err := b.run(ctx, m, msg, outcome); err != nil {
			faulted = true
			b.moduleFailed(ctx, m, msg, err)
		}

		if !m.IsTransparent() {
			break
		}
	}

	if !faulted {
		b.diag.success.Add(1)
	}

	b.publish(ctx, bus.Event{
		Type:      bus.EventMessageProcessed,
		Channel:   msg.Channel,
		MessageID: msg.ID,
		Payload: map[string]string{
			"matched": strconv.FormatBool(matched),
			"faulted": strconv.FormatBool(faulted),
		},
	})
}

func shouldProcess(m module.Module, msg message.Message) (outcome string, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = faults.Newf(faults.KindModuleProcessing, m.ID(), "filter panicked: %v", r)
		}
	}()

	outcome, ok = module.ShouldProcess(m, msg)
	return outcome, ok, nil
}

func (b *Bot) run(ctx context.Context, m module.Module, msg message.Message, outcome string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = faults.Newf(faults.KindModuleProcessing, m.ID(), "processor panicked: %v", r)
		}
	}()

	reply, err := m.Process(ctx, msg, outcome)
	if err != nil {
		if faults.KindOf(err) == "" {
			err = faults.Wrap(faults.KindModuleProcessing, m.ID(), "processor failed", err)
		}
		return err
	}
	if reply == "" {
		return nil
	}

	chain, err := b.render(m, reply)
	if err != nil {
		return err
	}

	if err := b.server.Send(ctx, message.ReplyTo(msg, m.ID(), chain)); err != nil {
		return faults.Wrap(faults.KindModuleProcessing, m.ID(), "send reply", err)
	}

	return nil
}

// render compiles module output into a chain and signs it. Media chains are
// left unsigned.
func (b *Bot) render(m module.Module, text string) (message.Chain, error) {
	chain := message.NewChain(message.PlainElement(text))
	if marker.ContainsMarkup(text) {
		compiled, err := marker.Compile(text, b.ModuleCacheDir(m.ID()))
		if err != nil {
			return message.Chain{}, err
		}
		chain = compiled
	}

	if !m.UseSignature() || len(chain.Media()) > 0 {
		return chain, nil
	}

	signature := "[" + m.ID() + "] "
	elements := chain.Elements
	if len(elements) > 0 && elements[0].Type == message.ElementPlain {
		first := message.PlainElement(signature + elements[0].Text)
		return message.NewChain(append([]message.Element{first}, elements[1:]...)...), nil
	}

	return message.NewChain(append([]message.Element{message.PlainElement(signature)}, elements...)...), nil
}

func (b *Bot) autosave() {
	for _, m := range b.Modules() {
		snapshot, err := state.Snapshot(m)
		if err != nil {
			b.log.Error("status snapshot failed", "module_id", m.ID(), "error", err)
			continue
		}

		b.mu.Lock()
		prev, attached := b.snapshots[m]
		changed := attached && !bytes.Equal(prev, snapshot)
		if changed {
			b.snapshots[m] = snapshot
		}
		b.mu.Unlock()

		if changed {
			b.log.Debug("status changed, saving", "module_id", m.ID())
			b.saver.Save(m.ID(), snapshot)
		}
	}
}

func (b *Bot) moduleFailed(ctx context.Context, m module.Module, msg message.Message, err error) {
	b.log.Error("module failed", "module_id", m.ID(), "message_id", msg.ID, "kind", faults.KindOf(err), "error", err)
	b.publish(ctx, bus.Event{
		Type:      bus.EventModuleFailed,
		Channel:   msg.Channel,
		MessageID: msg.ID,
		ModuleID:  m.ID(),
		Error:     err.Error(),
	})
}

func (b *Bot) publish(ctx context.Context, event bus.Event) {
	if b.events == nil {
		return
	}

	b.events.PublishEvent(ctx, event)
}
