package gateway

import (
	"strings"
	"testing"
	"unicode/utf8"

	"klbot/pkg/bus"
	"klbot/pkg/message"
)

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{channelStates: map[string]channelState{"telegram": {}}}
	if svc.isReady() {
		t.Fatal("expected not ready without a running channel")
	}

	svc.channelStates["telegram"] = channelState{Running: true}
	if !svc.isReady() {
		t.Fatal("expected ready with a running channel")
	}

	svc.channelStates["telegram"] = channelState{Running: false, Error: "boom"}
	if svc.isReady() {
		t.Fatal("expected not ready after channel failure")
	}
}

func TestPreviewBoundsReplyText(t *testing.T) {
	t.Parallel()

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	out := message.Outbound{Chain: message.NewChain(message.PlainElement(string(long)))}

	if got := preview(out); len(got) != 83 {
		t.Fatalf("preview len = %d, want 83", len(got))
	}

	wide := message.Outbound{Chain: message.NewChain(message.PlainElement(strings.Repeat("蛤儿", 60)))}
	got := preview(wide)
	if !utf8.ValidString(got) {
		t.Fatalf("preview split a rune: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 83 {
		t.Fatalf("preview runes = %d, want 83", n)
	}
}

func TestCountFailuresTalliesPerModule(t *testing.T) {
	t.Parallel()

	s := &Service{moduleFailures: make(map[string]uint64)}
	events := make(chan bus.Event, 3)
	events <- bus.Event{Type: bus.EventModuleFailed, ModuleID: "Ping[0]"}
	events <- bus.Event{Type: bus.EventModuleFailed, ModuleID: "ChatModule[0]"}
	events <- bus.Event{Type: bus.EventModuleFailed, ModuleID: "Ping[0]"}
	close(events)

	s.countFailures(events)

	if got := s.moduleFailures["Ping[0]"]; got != 2 {
		t.Fatalf("Ping[0] failures = %d, want 2", got)
	}
	if got := s.moduleFailures["ChatModule[0]"]; got != 1 {
		t.Fatalf("ChatModule[0] failures = %d, want 1", got)
	}
}
