package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveWritesStatusFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "saves")
	w := NewWriter(dir, nil)

	p := w.Save("Echo[0]", []byte(`{"Enabled":false}`))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait error: %v", err)
	}

	data, err := os.ReadFile(StatusPath(dir, "Echo[0]"))
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if string(data) != `{"Enabled":false}` {
		t.Fatalf("status = %s", data)
	}
}

func TestSavesOfOneInstanceEndWithNewestData(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, nil)

	var handles []*Pending
	for i := 0; i < 50; i++ {
		handles = append(handles, w.Save("Counter[0]", []byte(fmt.Sprintf(`{"n":%d}`, i))))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	for i, p := range handles {
		select {
		case <-p.Done():
		default:
			t.Fatalf("handle %d not completed after Flush", i)
		}
	}

	data, err := os.ReadFile(StatusPath(dir, "Counter[0]"))
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if string(data) != `{"n":49}` {
		t.Fatalf("status = %s, want newest save", data)
	}
}

func TestSavesOfDifferentInstances(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, nil)

	ids := []string{"A[0]", "A[1]", "B[0]"}
	for _, id := range ids {
		w.Save(id, []byte(`"`+id+`"`))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush error: %v", err)
	}

	for _, id := range ids {
		data, err := os.ReadFile(StatusPath(dir, id))
		if err != nil {
			t.Fatalf("read %s: %v", id, err)
		}
		if string(data) != `"`+id+`"` {
			t.Fatalf("%s status = %s", id, data)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != len(ids) {
		t.Fatalf("dir has %d entries, want %d (temp files left behind?)", len(entries), len(ids))
	}
}

func TestWriteFailureReachesHandle(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	w := NewWriter(filepath.Join(blocker, "saves"), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.Save("X[0]", []byte(`{}`)).Wait(ctx); err == nil {
		t.Fatal("expected write error when the directory cannot be created")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	p := newPending()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Wait(ctx); err != context.Canceled {
		t.Fatalf("Wait error = %v, want context.Canceled", err)
	}
}
