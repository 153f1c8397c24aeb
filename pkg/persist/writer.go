// Package persist writes module status documents in the background.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// StatusPath is the status document location of one module instance.
func StatusPath(dir string, id string) string {
	return filepath.Join(dir, id+"_status.json")
}

// SetupPath is the setup document location of one module instance.
func SetupPath(dir string, id string) string {
	return filepath.Join(dir, id+"_setup.json")
}

// Pending completes when the save it was returned for, or a newer save of the
// same instance that superseded it, has hit the disk.
type Pending struct {
	done chan struct{}
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) complete(err error) {
	p.err = err
	close(p.done)
}

// Done is closed once the write finished.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the write finished or ctx ends.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type batch struct {
	data    []byte
	pending []*Pending
}

// lane serializes the writes of one instance: one batch in flight, at most
// one queued behind it.
type lane struct {
	inflight *batch
	queued   *batch
}

// Writer persists status documents, one lane per module instance.
type Writer struct {
	dir string
	log *slog.Logger

	mu    sync.Mutex
	lanes map[string]*lane
}

func NewWriter(dir string, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}

	return &Writer{
		dir:   dir,
		log:   log.With("component", "persist.writer"),
		lanes: make(map[string]*lane),
	}
}

// Dir returns the directory status documents are written to.
func (w *Writer) Dir() string {
	return w.dir
}

// Save schedules data as the status document of id and returns immediately.
// While a write for id is in flight, later saves coalesce into one queued
// write carrying the newest data.
func (w *Writer) Save(id string, data []byte) *Pending {
	p := newPending()

	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.lanes[id]
	if !ok {
		l = &lane{inflight: &batch{data: data, pending: []*Pending{p}}}
		w.lanes[id] = l
		go w.drain(id, l)
		return p
	}

	if l.queued == nil {
		l.queued = &batch{}
	}
	l.queued.data = data
	l.queued.pending = append(l.queued.pending, p)

	return p
}

// Flush waits for every write scheduled so far.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	var waiting []*Pending
	for _, l := range w.lanes {
		waiting = append(waiting, l.inflight.pending...)
		if l.queued != nil {
			waiting = append(waiting, l.queued.pending...)
		}
	}
	w.mu.Unlock()

	var firstErr error
	for _, p := range waiting {
		if err := p.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (w *Writer) drain(id string, l *lane) {
	for {
		w.mu.Lock()
		current := l.inflight
		w.mu.Unlock()

		err := w.write(id, current.data)
		if err != nil {
			w.log.Error("status write failed", "module_id", id, "error", err)
		} else {
			w.log.Debug("status written", "module_id", id, "bytes", len(current.data))
		}
		for _, p := range current.pending {
			p.complete(err)
		}

		w.mu.Lock()
		if l.queued == nil {
			delete(w.lanes, id)
			w.mu.Unlock()
			return
		}
		l.inflight, l.queued = l.queued, nil
		w.mu.Unlock()
	}
}

func (w *Writer) write(id string, data []byte) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}

	tmp, err := os.CreateTemp(w.dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp status file: %w", err)
	}

	if err := os.Rename(tmpName, StatusPath(w.dir, id)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace status file: %w", err)
	}

	return nil
}
