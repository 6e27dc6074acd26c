package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minutron/minutron/internal/common"
)

func TestDispatcherSerialisesPerKey(t *testing.T) {
	d := NewDispatcher(nil, WithWorkers(4), WithQueueSize(8))

	var (
		mu      sync.Mutex
		order   = map[string][]int{}
		running = map[string]int{}
		overlap atomic.Bool
	)
	for i := 0; i < 20; i++ {
		for _, key := range []string{"AB000001", "CD000002", "EF000003"} {
			i, key := i, key
			err := d.Enqueue(context.Background(), Job{Key: key, Name: "event", Run: func(context.Context) error {
				mu.Lock()
				running[key]++
				if running[key] > 1 {
					overlap.Store(true)
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				running[key]--
				order[key] = append(order[key], i)
				mu.Unlock()
				return nil
			}})
			if err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Shutdown(ctx)

	if overlap.Load() {
		t.Fatalf("two jobs of one key ran concurrently")
	}
	for key, got := range order {
		if len(got) != 20 {
			t.Fatalf("%s ran %d jobs, want 20", key, len(got))
		}
		for i, v := range got {
			if v != i {
				t.Fatalf("%s order = %v", key, got)
			}
		}
	}
}

func TestDispatcherSurvivesFailuresAndPanics(t *testing.T) {
	d := NewDispatcher(nil, WithWorkers(1))
	var ran atomic.Int32
	_ = d.Enqueue(context.Background(), Job{Key: "k", Run: func(context.Context) error { return errors.New("boom") }})
	_ = d.Enqueue(context.Background(), Job{Key: "k", Run: func(context.Context) error { panic("handler bug") }})
	_ = d.Enqueue(context.Background(), Job{Key: "k", Run: func(context.Context) error { ran.Add(1); return nil }})
	d.Shutdown(context.Background())
	if ran.Load() != 1 {
		t.Fatalf("job after failure did not run")
	}
}

func TestDispatcherRejectsAfterShutdown(t *testing.T) {
	d := NewDispatcher(nil)
	d.Shutdown(context.Background())
	err := d.Enqueue(context.Background(), Job{Key: "k", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	d.Shutdown(context.Background())
}

func TestDispatcherJobTimeout(t *testing.T) {
	d := NewDispatcher(nil, WithWorkers(1), WithJobTimeout(20*time.Millisecond))
	got := make(chan error, 1)
	_ = d.Enqueue(context.Background(), Job{Key: "k", Run: func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	}})
	select {
	case err := <-got:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job context never expired")
	}
	d.Shutdown(context.Background())
}

func TestLaneIsStable(t *testing.T) {
	d := NewDispatcher(nil, WithWorkers(5))
	defer d.Shutdown(context.Background())
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("AB%06d", i)
		if d.Lane(key) != d.Lane(key) || d.Lane(key) >= 5 {
			t.Fatalf("lane for %s unstable or out of range", key)
		}
	}
}

func TestDispatcherCarriesTraceID(t *testing.T) {
	d := NewDispatcher(nil, WithWorkers(1))
	got := make(chan string, 1)
	err := d.Enqueue(context.Background(), Job{Key: ChatKey(42), Name: "event", TraceID: "trace-1", Run: func(ctx context.Context) error {
		got <- common.RequestIDFromContext(ctx)
		return nil
	}})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	d.Shutdown(context.Background())
	if id := <-got; id != "trace-1" {
		t.Fatalf("request id = %q, want trace-1", id)
	}
	if ChatKey(42) != "42" {
		t.Fatalf("ChatKey(42) = %q", ChatKey(42))
	}
}
