package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/contentmine/engine/internal/ai"
	"github.com/contentmine/engine/internal/ledger"
	"github.com/contentmine/engine/internal/storage"
)

// fakeClock drives virtual time. Advance fires any timers that come due.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	f        func()
	stopped  bool
	fired    bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Sleep blocks until Advance moves virtual time past the deadline or the
// context is cancelled.
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	done := make(chan struct{})
	c.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fakeProvider produces deterministic generations and can fail on chosen
// calls.
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	failOn  map[int]error // 1-based call number -> error
	content string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{failOn: make(map[int]error), content: "generated content"}
}

func (p *fakeProvider) Generate(ctx context.Context, req ai.Request) (*ai.Generation, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	err := p.failOn[n]
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &ai.Generation{
		Content:     fmt.Sprintf("%s #%d", p.content, n),
		ContentType: "text/plain",
		Model:       "fake-model",
		Usage:       ai.Usage{Units: 42},
	}, nil
}

// fakeStorage mints unique content ids.
type fakeStorage struct {
	mu    sync.Mutex
	count int
	err   error
}

func (s *fakeStorage) Store(ctx context.Context, content []byte, meta storage.Metadata) (*storage.StoredContent, error) {
	s.mu.Lock()
	s.count++
	n := s.count
	err := s.err
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(content)
	return &storage.StoredContent{
		ContentID:     fmt.Sprintf("bafytest%04d", n),
		RetrievalURL:  fmt.Sprintf("https://gateway.test/ipfs/bafytest%04d", n),
		IntegrityHash: hex.EncodeToString(sum[:]),
		Size:          int64(len(content)),
	}, nil
}

// fakeLedger records every batch call.
type fakeLedger struct {
	mu     sync.Mutex
	calls  [][]ledger.Slot
	result *ledger.Result
	err    error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{result: &ledger.Result{
		Success:       true,
		TransactionID: "0xabc123",
		BlockNumber:   777,
	}}
}

func (l *fakeLedger) SubmitBatch(ctx context.Context, slots []ledger.Slot) (*ledger.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]ledger.Slot, len(slots))
	copy(cp, slots)
	l.calls = append(l.calls, cp)
	if l.err != nil {
		return nil, l.err
	}
	res := *l.result
	return &res, nil
}

func (l *fakeLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func (l *fakeLedger) call(i int) []ledger.Slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[i]
}

// harness bundles an engine wired entirely with fakes.
type harness struct {
	engine   *Engine
	store    ProgressStore
	ledger   *fakeLedger
	provider *fakeProvider
	storage  *fakeStorage
	clock    *fakeClock
	batches  *BatchRegistry
}

type harnessOpts struct {
	targetSize int
	timeout    time.Duration
	store      ProgressStore
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	if opts.targetSize == 0 {
		opts.targetSize = 50
	}
	if opts.timeout == 0 {
		opts.timeout = 5 * time.Minute
	}
	if opts.store == nil {
		opts.store = NewMemoryStore()
	}

	clock := newFakeClock()
	provider := newFakeProvider()
	store := opts.store
	fl := newFakeLedger()
	fs := &fakeStorage{}

	registry := ai.NewRegistry()
	registry.Register("fake", func(ctx context.Context, model, apiKey string) (ai.Provider, error) {
		return provider, nil
	})

	batches := NewBatchRegistry(fl, store, clock, opts.targetSize, opts.timeout)
	executor := NewStageExecutor(store, registry, fs, batches, clock)
	engine := NewEngine(Options{Store: store, Executor: executor, Batches: batches, Clock: clock})

	return &harness{
		engine:   engine,
		store:    store,
		ledger:   fl,
		provider: provider,
		storage:  fs,
		clock:    clock,
		batches:  batches,
	}
}

func testConfig(campaignID string, autoSubmit bool) SubmissionConfig {
	return SubmissionConfig{
		GeneratorID:         "agent-1",
		CampaignID:          campaignID,
		CampaignTitle:       "Test Campaign",
		CampaignDescription: "write something interesting",
		Provider:            "fake",
		SubmitterAddress:    "0x1111111111111111111111111111111111111111",
		AutoSubmit:          autoSubmit,
	}
}

// waitForStatus polls until the record reaches status or the deadline hits.
func waitForStatus(t *testing.T, store ProgressStore, id string, status Status) *SubmissionProgress {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.Get(context.Background(), id)
		if err == nil && rec.Status == status {
			return rec
		}
		time.Sleep(time.Millisecond)
	}
	rec, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("submission %s never reached %s: %v", id, status, err)
	}
	t.Fatalf("submission %s never reached %s (status=%s, error=%q)", id, status, rec.Status, rec.Error)
	return nil
}

func waitForTerminal(t *testing.T, store ProgressStore, id string) *SubmissionProgress {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.Get(context.Background(), id)
		if err == nil && rec.Status.Terminal() {
			return rec
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("submission %s never reached a terminal state", id)
	return nil
}

var errProviderDown = errors.New("provider quota exceeded")
