package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
	"github.com/kursadbilgin/moments-broadcast/internal/messaging"
	"github.com/kursadbilgin/moments-broadcast/internal/queue"
	"github.com/kursadbilgin/moments-broadcast/internal/selector"
)

type fakeSubscriberRepo struct {
	findOptedInFn func(ctx context.Context, targeting domain.Targeting) ([]domain.Recipient, error)
}

func (f *fakeSubscriberRepo) FindOptedIn(ctx context.Context, targeting domain.Targeting) ([]domain.Recipient, error) {
	if f.findOptedInFn != nil {
		return f.findOptedInFn(ctx, targeting)
	}
	return nil, nil
}

func (f *fakeSubscriberRepo) GetLastInboundAt(context.Context, string) (*time.Time, error) {
	return nil, nil
}

func (f *fakeSubscriberRepo) RecordInbound(context.Context, string, time.Time) error {
	return nil
}

// fakeBatchRepo overrides individual methods of an optional backing repository.
type fakeBatchRepo struct {
	*memBatches
	createPlanFn func(ctx context.Context, broadcastID string, batches []*domain.BroadcastBatch) error
	claimFn      func(ctx context.Context, id string) (*domain.BroadcastBatch, error)
	listStaleFn  func(ctx context.Context, status domain.BatchStatus, before time.Time, limit int) ([]domain.BroadcastBatch, error)
	checkpointFn func(ctx context.Context, id string, result domain.GenerationResult, pending []string) (*domain.BroadcastBatch, error)
}

func (f *fakeBatchRepo) CreatePlan(ctx context.Context, broadcastID string, batches []*domain.BroadcastBatch) error {
	if f.createPlanFn != nil {
		return f.createPlanFn(ctx, broadcastID, batches)
	}
	return f.memBatches.CreatePlan(ctx, broadcastID, batches)
}

func (f *fakeBatchRepo) Claim(ctx context.Context, id string) (*domain.BroadcastBatch, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, id)
	}
	return f.memBatches.Claim(ctx, id)
}

func (f *fakeBatchRepo) ListStale(ctx context.Context, status domain.BatchStatus, before time.Time, limit int) ([]domain.BroadcastBatch, error) {
	if f.listStaleFn != nil {
		return f.listStaleFn(ctx, status, before, limit)
	}
	return f.memBatches.ListStale(ctx, status, before, limit)
}

func (f *fakeBatchRepo) Checkpoint(ctx context.Context, id string, result domain.GenerationResult, pending []string) (*domain.BroadcastBatch, error) {
	if f.checkpointFn != nil {
		return f.checkpointFn(ctx, id, result, pending)
	}
	return f.memBatches.Checkpoint(ctx, id, result, pending)
}

type fakeBroadcastRepo struct {
	*memBroadcasts
	getActiveByContentFn func(ctx context.Context, contentID string) (*domain.Broadcast, error)
}

func (f *fakeBroadcastRepo) GetActiveByContent(ctx context.Context, contentID string) (*domain.Broadcast, error) {
	if f.getActiveByContentFn != nil {
		return f.getActiveByContentFn(ctx, contentID)
	}
	return f.memBroadcasts.GetActiveByContent(ctx, contentID)
}

type sentMessage struct {
	channel  selector.Channel
	to       string
	template string
	body     string
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	sendFn func(ctx context.Context, to string, attempt int) error
	tries  map[string]int
}

func (f *fakeSender) SendFreeform(ctx context.Context, msg messaging.FreeformMessage) (*messaging.SendResult, error) {
	return f.record(ctx, sentMessage{channel: selector.ChannelFreeform, to: msg.To, body: msg.Body})
}

func (f *fakeSender) SendTemplate(ctx context.Context, msg messaging.TemplateMessage) (*messaging.SendResult, error) {
	return f.record(ctx, sentMessage{channel: selector.ChannelTemplate, to: msg.To, template: msg.Name})
}

func (f *fakeSender) record(ctx context.Context, m sentMessage) (*messaging.SendResult, error) {
	f.mu.Lock()
	if f.tries == nil {
		f.tries = map[string]int{}
	}
	f.tries[m.to]++
	attempt := f.tries[m.to]
	f.sent = append(f.sent, m)
	fn := f.sendFn
	f.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, m.to, attempt); err != nil {
			return nil, err
		}
	}
	return &messaging.SendResult{StatusCode: 200, MessageID: "wamid." + m.to}, nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeSender) attempts(phone string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tries[phone]
}

type fakeWindow struct {
	withinFn func(ctx context.Context, phone string) (bool, error)
}

func (f *fakeWindow) IsWithinWindow(ctx context.Context, phone string) (bool, error) {
	if f.withinFn != nil {
		return f.withinFn(ctx, phone)
	}
	return false, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.BatchMessage
	publishFn func(ctx context.Context, queueName string, msg queue.BatchMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.BatchMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) messages() []queue.BatchMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.BatchMessage(nil), f.published...)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeDispatcher struct {
	dispatchFn func(ctx context.Context, batchID string) (BatchOutcome, error)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, batchID string) (BatchOutcome, error) {
	return f.dispatchFn(ctx, batchID)
}

type fakeRateLimiter struct {
	mu     sync.Mutex
	keys   []string
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}
