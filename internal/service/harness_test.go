package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
	"github.com/kursadbilgin/moments-broadcast/internal/repository"
	"github.com/kursadbilgin/moments-broadcast/internal/selector"
)

const (
	testBatchSize = 50
	testCost      = 65
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harnessOptions struct {
	subscribers repository.SubscriberRepository
	broadcasts  repository.BroadcastRepository
	batches     repository.BatchRepository
	budgets     repository.BudgetRepository
	logger      *zap.Logger
}

// harness wires the real services over a memState.
type harness struct {
	state       *memState
	clock       *testClock
	sender      *fakeSender
	window      *fakeWindow
	publisher   *fakePublisher
	coordinator *Coordinator
	dispatcher  *Dispatcher
	sweeper     *Sweeper
	worker      *WorkerService

	mu        sync.Mutex
	sleeps    []time.Duration
	completed []string
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	h := &harness{
		state:     newMemState(),
		clock:     newTestClock(),
		sender:    &fakeSender{},
		window:    &fakeWindow{},
		publisher: &fakePublisher{},
	}
	h.state.now = h.clock.Now

	var subscribers repository.SubscriberRepository = h.state.subscriberRepo()
	if opts.subscribers != nil {
		subscribers = opts.subscribers
	}
	var broadcasts repository.BroadcastRepository = h.state.broadcastRepo()
	if opts.broadcasts != nil {
		broadcasts = opts.broadcasts
	}
	var batches repository.BatchRepository = h.state.batchRepo()
	if opts.batches != nil {
		batches = opts.batches
	}
	var budgets repository.BudgetRepository = h.state.budgetRepo()
	if opts.budgets != nil {
		budgets = opts.budgets
	}
	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sel, err := selector.New(h.window, nil, "https://moments.example", "en", logger)
	if err != nil {
		t.Fatalf("selector.New() error = %v", err)
	}
	resolver, err := NewResolver(subscribers)
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	planner, err := NewPlanner(batches)
	if err != nil {
		t.Fatalf("NewPlanner() error = %v", err)
	}
	planner.now = h.clock.Now

	h.coordinator, err = NewCoordinator(
		h.state.contentRepo(),
		broadcasts,
		h.state.complianceRepo(),
		budgets,
		resolver,
		planner,
		sel,
		h.publisher,
		CoordinatorConfig{BatchSize: testBatchSize, CostPerMessageCents: testCost},
		logger,
	)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	h.coordinator.now = h.clock.Now

	h.dispatcher, err = NewDispatcher(batches, h.state.broadcastRepo(), h.state.contentRepo(), sel, h.sender, logger)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	h.dispatcher.now = h.clock.Now
	h.dispatcher.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	h.dispatcher.SetCompletionHook(func(ctx context.Context, b *domain.Broadcast) {
		h.mu.Lock()
		h.completed = append(h.completed, b.ID)
		h.mu.Unlock()
	})

	h.sweeper, err = NewSweeper(h.state.broadcastRepo(), batches, budgets, h.publisher, SweeperConfig{
		Cooldown:            10 * time.Minute,
		DeadBatchAfter:      15 * time.Minute,
		CostPerMessageCents: testCost,
	}, logger)
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}
	h.sweeper.now = h.clock.Now

	h.worker, err = NewWorkerService(h.dispatcher, &fakeConsumer{}, h.publisher, 1, 1000, logger)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	return h
}

func testPhone(i int) string {
	return fmt.Sprintf("+2771%07d", i)
}

func (h *harness) seedSubscribers(n int, regions ...string) []string {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	phones := make([]string, 0, n)
	for i := 0; i < n; i++ {
		phone := testPhone(len(h.state.subscribers))
		h.state.subscribers = append(h.state.subscribers, domain.Recipient{
			Phone:   phone,
			OptedIn: true,
			Regions: regions,
		})
		phones = append(phones, phone)
	}
	return phones
}

func (h *harness) seedContent(c domain.Content) *domain.Content {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	if c.ID == "" {
		c.ID = fmt.Sprintf("content-%d", len(h.state.contents)+1)
	}
	if c.Title == "" {
		c.Title = "Water outage in Soweto"
	}
	if c.Body == "" {
		c.Body = "Supply is restored by 18:00 today."
	}
	h.state.contents[c.ID] = &c
	out := c
	return &out
}

func (h *harness) seedCampaign(c domain.Campaign) *domain.Campaign {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	if c.Title == "" {
		c.Title = "Spring sale"
	}
	if c.Body == "" {
		c.Body = "Everything half price this weekend."
	}
	h.state.campaigns[c.ID] = &c
	out := c
	return &out
}

// drain delivers every queued task through the worker, including tasks published
// while draining.
func (h *harness) drain(t *testing.T) {
	t.Helper()

	for i := 0; ; i++ {
		msgs := h.publisher.messages()
		if i >= len(msgs) {
			return
		}
		if i > 200 {
			t.Fatal("queue did not drain")
		}
		if err := h.worker.processMessage(context.Background(), msgs[i]); err != nil {
			t.Fatalf("processMessage(%s) error = %v", msgs[i].BatchID, err)
		}
	}
}

func (h *harness) recordedSleeps() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func (h *harness) completions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.completed...)
}
