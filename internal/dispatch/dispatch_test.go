package dispatch

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/classmate/internal/errors"
)

type recorder struct {
	mu   sync.Mutex
	got  map[string][]string
	fail map[string]bool
}

func newRecorder() *recorder {
	return &recorder{got: make(map[string][]string), fail: make(map[string]bool)}
}

func (r *recorder) Deliver(_ context.Context, userID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[userID] {
		return stderrors.New("user unreachable")
	}
	r.got[userID] = append(r.got[userID], text)
	return nil
}

func (r *recorder) count(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got[userID])
}

func TestSubmit_DeliversAndDrainsOnClose(t *testing.T) {
	rec := newRecorder()
	d := New(rec, Config{Workers: 2}, nil)
	d.Start(context.Background())

	for range 10 {
		if err := d.Submit(context.Background(), "42", "hello"); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	d.Close()

	if got := rec.count("42"); got != 10 {
		t.Errorf("delivered = %d, want 10", got)
	}
	if s := d.Stats(); s.Delivered != 10 || s.Failed != 0 {
		t.Errorf("Stats() = %+v, want 10 delivered", s)
	}
}

func TestClose_DrainsWithoutStart(t *testing.T) {
	rec := newRecorder()
	d := New(rec, Config{}, nil)
	if err := d.Submit(context.Background(), "42", "queued"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	d.Close()
	if got := rec.count("42"); got != 1 {
		t.Errorf("delivered = %d, want 1", got)
	}
}

func TestSubmit_QueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := DelivererFunc(func(ctx context.Context, _, _ string) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	d := New(blocking, Config{QueueSize: 1, Workers: 1, EnqueueTimeout: 20 * time.Millisecond, DeliveryTimeout: time.Minute}, nil)
	d.Start(context.Background())
	defer func() {
		close(release)
		d.Close()
	}()

	ctx := context.Background()
	if err := d.Submit(ctx, "a", "1"); err != nil {
		t.Fatalf("Submit(1) error = %v", err)
	}
	<-started // worker now holds message 1
	if err := d.Submit(ctx, "b", "2"); err != nil {
		t.Fatalf("Submit(2) error = %v", err)
	}

	begin := time.Now()
	err := d.Submit(ctx, "c", "3")
	if !errors.Is(err, errors.ErrQueueFull) {
		t.Fatalf("Submit(3) error = %v, want ErrQueueFull", err)
	}
	if waited := time.Since(begin); waited > time.Second {
		t.Errorf("Submit waited %v, want about the enqueue timeout", waited)
	}
}

func TestDeliver_TimeoutDoesNotBlockOthers(t *testing.T) {
	rec := newRecorder()
	var gotErr error
	var mu sync.Mutex
	d := New(DelivererFunc(func(ctx context.Context, userID, text string) error {
		if userID == "slow" {
			<-ctx.Done()
			mu.Lock()
			gotErr = ctx.Err()
			mu.Unlock()
			return ctx.Err()
		}
		return rec.Deliver(ctx, userID, text)
	}), Config{Workers: 1, DeliveryTimeout: 20 * time.Millisecond}, nil)
	d.Start(context.Background())

	ctx := context.Background()
	_ = d.Submit(ctx, "slow", "x")
	_ = d.Submit(ctx, "fast", "y")
	d.Close()

	if rec.count("fast") != 1 {
		t.Errorf("fast delivered = %d, want 1", rec.count("fast"))
	}
	mu.Lock()
	defer mu.Unlock()
	if !stderrors.Is(gotErr, context.DeadlineExceeded) {
		t.Errorf("slow ctx err = %v, want DeadlineExceeded", gotErr)
	}
	if s := d.Stats(); s.Failed != 1 || s.Delivered != 1 {
		t.Errorf("Stats() = %+v, want 1 failed 1 delivered", s)
	}
}

func TestDeliver_FailureIsDroppedNotRetried(t *testing.T) {
	rec := newRecorder()
	rec.fail["gone"] = true
	d := New(rec, Config{Workers: 1}, nil)
	d.Start(context.Background())

	ctx := context.Background()
	_ = d.Submit(ctx, "gone", "a")
	_ = d.Submit(ctx, "here", "b")
	d.Close()

	if got := rec.count("here"); got != 1 {
		t.Errorf("here delivered = %d, want 1", got)
	}
	if s := d.Stats(); s.Failed != 1 {
		t.Errorf("Failed = %d, want 1", s.Failed)
	}
}

func TestDeliver_PanicRecovered(t *testing.T) {
	rec := newRecorder()
	d := New(DelivererFunc(func(ctx context.Context, userID, text string) error {
		if userID == "boom" {
			panic("transport exploded")
		}
		return rec.Deliver(ctx, userID, text)
	}), Config{Workers: 1}, nil)
	d.Start(context.Background())

	ctx := context.Background()
	_ = d.Submit(ctx, "boom", "a")
	_ = d.Submit(ctx, "ok", "b")
	d.Close()

	if got := rec.count("ok"); got != 1 {
		t.Errorf("ok delivered = %d, want 1", got)
	}
}

func TestSubmit_AfterClose(t *testing.T) {
	d := New(newRecorder(), Config{}, nil)
	d.Close()
	d.Close()

	if err := d.Submit(context.Background(), "42", "late"); !stderrors.Is(err, ErrClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrClosed", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	rec := newRecorder()
	d := New(rec, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	_ = d.Submit(context.Background(), "42", "hi")
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := rec.count("42"); got != 1 {
		t.Errorf("delivered = %d, want 1", got)
	}
}
