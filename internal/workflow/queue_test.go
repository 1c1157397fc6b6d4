package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// recordingSubmit captures the order configs reach the orchestrator.
type recordingSubmit struct {
	mu       sync.Mutex
	started  []string
	rejectOn map[string]error
}

func (r *recordingSubmit) submit(ctx context.Context, cfg SubmissionConfig) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, cfg.CampaignID)
	if err := r.rejectOn[cfg.CampaignID]; err != nil {
		return "", err
	}
	return fmt.Sprintf("id-%d", len(r.started)), nil
}

func (r *recordingSubmit) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func waitForDrain(t *testing.T, q *SubmissionQueue, want int, rec *recordingSubmit) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q.Len() == 0 && len(rec.order()) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("queue never drained: depth=%d started=%v", q.Len(), rec.order())
}

func TestQueueStartsInEnqueueOrder(t *testing.T) {
	rec := &recordingSubmit{}
	q := NewSubmissionQueue(context.Background(), rec.submit, 0, newFakeClock())

	want := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		campaign := fmt.Sprintf("camp-%02d", i)
		want = append(want, campaign)
		q.Enqueue(testConfig(campaign, false))
	}
	waitForDrain(t, q, 10, rec)

	got := rec.order()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("start order %v, want %v", got, want)
		}
	}
}

func TestQueueRejectionOnlyAffectsItself(t *testing.T) {
	rec := &recordingSubmit{rejectOn: map[string]error{
		"camp-bad": errors.New("invalid submission config: generator id is required"),
	}}
	q := NewSubmissionQueue(context.Background(), rec.submit, 0, newFakeClock())

	q.Enqueue(testConfig("camp-ok-1", false))
	q.Enqueue(testConfig("camp-bad", false))
	q.Enqueue(testConfig("camp-ok-2", false))
	waitForDrain(t, q, 3, rec)

	got := rec.order()
	if len(got) != 3 || got[2] != "camp-ok-2" {
		t.Fatalf("started %v, want all three in order", got)
	}
}

func TestQueuePacingDelaysNextStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recordingSubmit{}
	clock := newFakeClock()
	q := NewSubmissionQueue(ctx, rec.submit, 2*time.Second, clock)

	q.Enqueue(testConfig("camp-first", false))
	q.Enqueue(testConfig("camp-second", false))

	// the drainer parks on a virtual-time sleep after the first start
	deadline := time.Now().Add(2 * time.Second)
	for clock.pendingTimers() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := rec.order(); len(got) != 1 || got[0] != "camp-first" {
		t.Fatalf("started %v before the pacing interval elapsed, want only camp-first", got)
	}

	clock.Advance(2 * time.Second)
	waitForDrain(t, q, 2, rec)

	if got := rec.order(); got[1] != "camp-second" {
		t.Fatalf("start order %v, want camp-second after camp-first", got)
	}
}

func TestQueueStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recordingSubmit{}
	q := NewSubmissionQueue(ctx, rec.submit, 0, newFakeClock())

	q.Enqueue(testConfig("camp-late", false))

	// give the drainer a moment; nothing should start
	time.Sleep(20 * time.Millisecond)
	if n := len(rec.order()); n != 0 {
		t.Fatalf("started %d submissions after cancel, want 0", n)
	}
}
