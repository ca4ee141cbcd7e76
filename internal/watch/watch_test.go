package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcher_TriggersOnChange(t *testing.T) {
	root := t.TempDir()

	triggered := make(chan struct{}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w := New(root, WithDebounce(50*time.Millisecond))
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context) {
			select {
			case triggered <- struct{}{}:
			default:
			}
			cancel()
		})
	}()

	// give the watcher time to register before producing events
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(root, "doc.md"), []byte("change"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case <-triggered:
	case <-ctx.Done():
		t.Fatal("watcher did not trigger before timeout")
	}
	<-done
}

func TestWatcher_BurstCoalescesIntoOneTrigger(t *testing.T) {
	root := t.TempDir()

	var fires int32
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w := New(root, WithDebounce(300*time.Millisecond))
	go func() {
		w.Run(ctx, func(context.Context) {
			atomic.AddInt32(&fires, 1)
		})
	}()

	time.Sleep(200 * time.Millisecond)

	// a burst of writes, each landing inside the previous debounce window
	for i := 0; i < 4; i++ {
		name := filepath.Join(root, "doc.md")
		if err := os.WriteFile(name, []byte{byte(i)}, 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	// wait out the debounce plus slack, then confirm a single trigger
	time.Sleep(800 * time.Millisecond)
	if got := atomic.LoadInt32(&fires); got != 1 {
		t.Fatalf("expected exactly one rebuild trigger, got %d", got)
	}
}

func TestWatcher_IgnoredPathsDoNotTrigger(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "site"), 0o750); err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	w := New(root,
		WithDebounce(50*time.Millisecond),
		WithIgnore(func(rel string) bool { return rel == "site" || filepath.Dir(rel) == "site" }))
	go func() {
		w.Run(ctx, func(context.Context) {
			select {
			case fired <- struct{}{}:
			default:
			}
		})
	}()

	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(root, "site", "out.html"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
		t.Fatal("ignored path triggered a rebuild")
	case <-ctx.Done():
	}
}
