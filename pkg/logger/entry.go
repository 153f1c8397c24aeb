package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one line of JSON log output. Attributes naming the component, the
// module instance, the message or the channel are lifted out of Fields.
type Entry struct {
	Time      string         `json:"time"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Module    string         `json:"module,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Channel   string         `json:"channel,omitempty"`
	Message   string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

var promoted = map[string]func(*Entry, string){
	"component":  func(e *Entry, v string) { e.Component = v },
	"module_id":  func(e *Entry, v string) { e.Module = v },
	"message_id": func(e *Entry, v string) { e.MessageID = v },
	"channel":    func(e *Entry, v string) { e.Channel = v },
}

type entryHandler struct {
	out      *lockedWriter
	settings Settings
	prefix   string
	attrs    []slog.Attr
}

type lockedWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEntryHandler(w io.Writer, settings Settings) *entryHandler {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &entryHandler{out: &lockedWriter{enc: enc}, settings: settings}
}

func (h *entryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.settings.Level
}

func (h *entryHandler) Handle(_ context.Context, record slog.Record) error {
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}

	entry := Entry{
		Time:    at.UTC().Format(time.RFC3339Nano),
		Level:   strings.ToLower(record.Level.String()),
		Message: record.Message,
		Fields:  map[string]any{},
	}
	for _, attr := range h.attrs {
		entry.add(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		entry.add(h.qualify(attr))
		return true
	})
	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}

	if h.settings.AddSource {
		if src := record.Source(); src != nil && src.File != "" {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line)
		}
	}

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	return h.out.enc.Encode(entry)
}

func (h *entryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, attr := range attrs {
		next.attrs = append(next.attrs, h.qualify(attr))
	}
	return &next
}

func (h *entryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *entryHandler) qualify(attr slog.Attr) slog.Attr {
	attr.Key = h.prefix + attr.Key
	return attr
}

func (e *Entry) add(attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if set, ok := promoted[attr.Key]; ok && attr.Value.Kind() == slog.KindString {
		set(e, attr.Value.String())
		return
	}

	e.Fields[attr.Key] = plain(attr.Value)
}

// plain converts a slog value into something encoding/json renders readably.
func plain(v slog.Value) any {
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := map[string]any{}
		for _, attr := range v.Group() {
			group[attr.Key] = plain(attr.Value.Resolve())
		}
		return group
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case fmt.Stringer:
			return x.String()
		}
	}

	return v.Any()
}
