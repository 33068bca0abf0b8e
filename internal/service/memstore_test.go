package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
)

// memState is an in-memory stand-in for the postgres repositories with the same
// conditional-update semantics.
type memState struct {
	mu           sync.Mutex
	broadcasts   map[string]*domain.Broadcast
	batches      map[string]*domain.BroadcastBatch
	contents     map[string]*domain.Content
	campaigns    map[string]*domain.Campaign
	subscribers  []domain.Recipient
	compliance   []domain.ComplianceRecord
	transactions []domain.BudgetTransaction
	now          func() time.Time
}

func newMemState() *memState {
	return &memState{
		broadcasts: map[string]*domain.Broadcast{},
		batches:    map[string]*domain.BroadcastBatch{},
		contents:   map[string]*domain.Content{},
		campaigns:  map[string]*domain.Campaign{},
		now:        time.Now,
	}
}

func (s *memState) broadcastRepo() *memBroadcasts { return &memBroadcasts{s} }
func (s *memState) batchRepo() *memBatches { return &memBatches{s} }
func (s *memState) contentRepo() *memContents { return &memContents{s} }
func (s *memState) subscriberRepo() *memSubscribers { return &memSubscribers{s} }
func (s *memState) complianceRepo() *memCompliance { return &memCompliance{s} }
func (s *memState) budgetRepo() *memBudgets { return &memBudgets{s} }

func (s *memState) broadcast(id string) domain.Broadcast {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBroadcast(s.broadcasts[id])
}

func (s *memState) batchesOf(broadcastID string) []domain.BroadcastBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchesOfLocked(broadcastID)
}

func (s *memState) batchesOfLocked(broadcastID string) []domain.BroadcastBatch {
	var out []domain.BroadcastBatch
	for _, b := range s.batches {
		if b.BroadcastID == broadcastID {
			out = append(out, cloneBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchNumber < out[j].BatchNumber })
	return out
}

func (s *memState) counts() (broadcasts, batches, compliance, transactions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.broadcasts), len(s.batches), len(s.compliance), len(s.transactions)
}

func cloneBroadcast(b *domain.Broadcast) domain.Broadcast {
	if b == nil {
		return domain.Broadcast{}
	}
	out := *b
	out.ErrorDetails = append([]domain.RecipientFailure(nil), b.ErrorDetails...)
	return out
}

func cloneBatch(b *domain.BroadcastBatch) domain.BroadcastBatch {
	out := *b
	out.Recipients = append([]string(nil), b.Recipients...)
	out.PendingRecipients = append([]string(nil), b.PendingRecipients...)
	out.FailedRecipients = append([]string(nil), b.FailedRecipients...)
	out.ErrorDetails = append([]domain.RecipientFailure(nil), b.ErrorDetails...)
	return out
}

type memBroadcasts struct{ s *memState }

func (r *memBroadcasts) Create(_ context.Context, b *domain.Broadcast) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b.SupersedesID == nil && b.Status == domain.BroadcastStatusProcessing {
		for _, other := range r.s.broadcasts {
			if other.ContentID == b.ContentID && other.Status == domain.BroadcastStatusProcessing && other.SupersedesID == nil {
				return domain.ErrConflict
			}
		}
	}
	c := cloneBroadcast(b)
	r.s.broadcasts[b.ID] = &c
	return nil
}

func (r *memBroadcasts) GetByID(_ context.Context, id string) (*domain.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := cloneBroadcast(b)
	return &c, nil
}

func (r *memBroadcasts) GetActiveByContent(_ context.Context, contentID string) (*domain.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.broadcasts {
		if b.ContentID == contentID && b.Status == domain.BroadcastStatusProcessing {
			c := cloneBroadcast(b)
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memBroadcasts) MarkFailed(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[id]
	if !ok || b.Status != domain.BroadcastStatusProcessing {
		return domain.ErrConflict
	}
	now := r.s.now()
	b.Status = domain.BroadcastStatusFailed
	b.CompletedAt = &now
	return nil
}

func (r *memBroadcasts) ListSweepable(_ context.Context, completedBefore time.Time, limit int) ([]domain.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Broadcast
	for _, b := range r.s.broadcasts {
		if b.Status == domain.BroadcastStatusCompleted && b.FailureCount > 0 && b.SweptAt == nil &&
			!b.IsSweep() && b.CompletedAt != nil && !b.CompletedAt.After(completedBefore) {
			out = append(out, cloneBroadcast(b))
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memBroadcasts) CreateSweep(_ context.Context, previousID string, sweep *domain.Broadcast, batch *domain.BroadcastBatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.broadcasts[previousID]
	if !ok || prev.SweptAt != nil {
		return domain.ErrConflict
	}
	now := r.s.now()
	prev.SweptAt = &now
	b := cloneBroadcast(sweep)
	r.s.broadcasts[sweep.ID] = &b
	bt := cloneBatch(batch)
	bt.UpdatedAt = now
	r.s.batches[batch.ID] = &bt
	return nil
}

func (r *memBroadcasts) MarkSwept(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[id]
	if !ok || b.SweptAt != nil {
		return domain.ErrConflict
	}
	now := r.s.now()
	b.SweptAt = &now
	return nil
}

func (r *memBroadcasts) ListUnreconciled(_ context.Context, limit int) ([]domain.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Broadcast
	for _, b := range r.s.broadcasts {
		if b.CampaignID != nil && b.ReconciledAt == nil && b.Status != domain.BroadcastStatusProcessing {
			out = append(out, cloneBroadcast(b))
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memBatches struct{ s *memState }

func (r *memBatches) CreatePlan(_ context.Context, broadcastID string, batches []*domain.BroadcastBatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	parent, ok := r.s.broadcasts[broadcastID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, b := range batches {
		c := cloneBatch(b)
		r.s.batches[b.ID] = &c
	}
	parent.BatchesTotal = len(batches)
	return nil
}

func (r *memBatches) GetByID(_ context.Context, id string) (*domain.BroadcastBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := cloneBatch(b)
	return &c, nil
}

func (r *memBatches) ListByBroadcast(_ context.Context, broadcastID string) ([]domain.BroadcastBatch, error) {
	return r.s.batchesOf(broadcastID), nil
}

func (r *memBatches) Claim(_ context.Context, id string) (*domain.BroadcastBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if b.Status != domain.BatchStatusPending {
		return nil, nil
	}
	now := r.s.now()
	b.Status = domain.BatchStatusProcessing
	if b.StartedAt == nil {
		b.StartedAt = &now
	}
	b.UpdatedAt = now
	c := cloneBatch(b)
	return &c, nil
}

func (r *memBatches) Requeue(_ context.Context, id string, result domain.GenerationResult, pending []string) (*domain.BroadcastBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok || b.Status != domain.BatchStatusProcessing || b.RetryCount >= domain.MaxBatchRetries {
		return nil, domain.ErrConflict
	}
	b.RetryCount++
	return r.releaseLocked(b, result, pending), nil
}

func (r *memBatches) Checkpoint(_ context.Context, id string, result domain.GenerationResult, pending []string) (*domain.BroadcastBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok || b.Status != domain.BatchStatusProcessing {
		return nil, domain.ErrConflict
	}
	return r.releaseLocked(b, result, pending), nil
}

func (r *memBatches) releaseLocked(b *domain.BroadcastBatch, result domain.GenerationResult, pending []string) *domain.BroadcastBatch {
	b.Status = domain.BatchStatusPending
	b.PendingRecipients = append([]string(nil), pending...)
	b.SuccessCount += result.Succeeded
	b.FailureCount += len(result.Permanent)
	for _, f := range result.Permanent {
		b.FailedRecipients = append(b.FailedRecipients, f.Phone)
	}
	b.ErrorDetails = append(b.ErrorDetails, result.Permanent...)
	b.UpdatedAt = r.s.now()
	c := cloneBatch(b)
	return &c
}

func (r *memBatches) Complete(_ context.Context, id string, result domain.GenerationResult) (*domain.BroadcastBatch, *domain.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok || b.Status != domain.BatchStatusProcessing {
		return nil, nil, domain.ErrConflict
	}
	parent, ok := r.s.broadcasts[b.BroadcastID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}

	now := r.s.now()
	terminal := append(append([]domain.RecipientFailure(nil), result.Permanent...), result.Transient...)
	b.Status = domain.BatchStatusCompleted
	b.CompletedAt = &now
	b.PendingRecipients = nil
	b.SuccessCount += result.Succeeded
	b.FailureCount += len(terminal)
	for _, f := range terminal {
		b.FailedRecipients = append(b.FailedRecipients, f.Phone)
	}
	b.ErrorDetails = append(b.ErrorDetails, terminal...)
	b.UpdatedAt = now

	parent.SuccessCount += b.SuccessCount
	parent.FailureCount += b.FailureCount
	parent.BatchesCompleted = min(parent.BatchesCompleted+1, parent.BatchesTotal)
	parent.ProgressPercentage = domain.Progress(parent.BatchesCompleted, parent.BatchesTotal)
	if parent.Status == domain.BroadcastStatusProcessing && parent.BatchesCompleted >= parent.BatchesTotal {
		parent.Status = domain.BroadcastStatusCompleted
		parent.CompletedAt = &now
	}
	parent.ErrorDetails = append(parent.ErrorDetails, b.ErrorDetails...)

	cb := cloneBatch(b)
	cp := cloneBroadcast(parent)
	return &cb, &cp, nil
}

func (r *memBatches) ListStale(_ context.Context, status domain.BatchStatus, before time.Time, limit int) ([]domain.BroadcastBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.BroadcastBatch
	for _, b := range r.s.batches {
		if b.Status == status && b.UpdatedAt.Before(before) {
			out = append(out, cloneBatch(b))
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memBatches) ListOrphaned(_ context.Context, before time.Time, limit int) ([]domain.BroadcastBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.BroadcastBatch
	for _, b := range r.s.batches {
		if b.Status != domain.BatchStatusPending || !b.UpdatedAt.Before(before) {
			continue
		}
		if b.PublishedAt != nil && !b.PublishedAt.Before(before) {
			continue
		}
		out = append(out, cloneBatch(b))
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memBatches) MarkPublished(_ context.Context, ids []string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		if b, ok := r.s.batches[id]; ok {
			stamp := at
			b.PublishedAt = &stamp
		}
	}
	return nil
}

func (r *memBatches) ResetStale(_ context.Context, id string, before time.Time) (*domain.BroadcastBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok || b.Status != domain.BatchStatusProcessing || !b.UpdatedAt.Before(before) || b.RetryCount >= domain.MaxBatchRetries {
		return nil, nil
	}
	b.Status = domain.BatchStatusPending
	b.RetryCount++
	b.UpdatedAt = r.s.now()
	c := cloneBatch(b)
	return &c, nil
}

type memContents struct{ s *memState }

func (r *memContents) GetByID(_ context.Context, id string) (*domain.Content, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contents[id]
	if !ok {
		return nil, domain.ErrContentNotFound
	}
	out := *c
	return &out, nil
}

func (r *memContents) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (r *memContents) EnsureCampaignContent(ctx context.Context, campaignID string) (*domain.Content, error) {
	r.s.mu.Lock()
	campaign, ok := r.s.campaigns[campaignID]
	if !ok {
		r.s.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	if campaign.ContentID == nil {
		id := uuid.NewString()
		cid := campaign.ID
		r.s.contents[id] = &domain.Content{
			ID:             id,
			Title:          campaign.Title,
			Body:           campaign.Body,
			AuthorityLevel: domain.AuthorityPartner,
			Sponsor:        &domain.Sponsor{ID: "sponsor-1", DisplayName: "Acme"},
			CampaignID:     &cid,
		}
		campaign.ContentID = &id
	}
	contentID := *campaign.ContentID
	r.s.mu.Unlock()
	return r.GetByID(ctx, contentID)
}

type memSubscribers struct{ s *memState }

func (r *memSubscribers) FindOptedIn(_ context.Context, targeting domain.Targeting) ([]domain.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Recipient
	for _, rcpt := range r.s.subscribers {
		if rcpt.OptedIn && targeting.Matches(rcpt) {
			out = append(out, rcpt)
		}
	}
	return out, nil
}

func (r *memSubscribers) GetLastInboundAt(context.Context, string) (*time.Time, error) {
	return nil, nil
}

func (r *memSubscribers) RecordInbound(context.Context, string, time.Time) error {
	return nil
}

type memCompliance struct{ s *memState }

func (r *memCompliance) Create(_ context.Context, rec *domain.ComplianceRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.compliance {
		if existing.BroadcastID == rec.BroadcastID {
			return domain.ErrConflict
		}
	}
	r.s.compliance = append(r.s.compliance, *rec)
	return nil
}

func (r *memCompliance) GetByBroadcast(_ context.Context, broadcastID string) (*domain.ComplianceRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.compliance {
		if r.s.compliance[i].BroadcastID == broadcastID {
			out := r.s.compliance[i]
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memBudgets struct{ s *memState }

func (r *memBudgets) CheckBudget(_ context.Context, campaignID string, amount int64) (domain.BudgetDecision, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[campaignID]
	if !ok {
		return domain.BudgetDecision{}, domain.ErrNotFound
	}
	if amount > c.Remaining() {
		return domain.BudgetDecision{Allowed: false, Reason: "over budget", Remaining: c.Remaining()}, nil
	}
	return domain.BudgetDecision{Allowed: true, Remaining: c.Remaining()}, nil
}

func (r *memBudgets) RecordSpend(_ context.Context, t *domain.BudgetTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[t.CampaignID]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Amount > c.Remaining() {
		return fmt.Errorf("%w: over budget", domain.ErrBudgetExceeded)
	}
	c.SpentAmount += t.Amount
	r.s.transactions = append(r.s.transactions, *t)
	return nil
}

func (r *memBudgets) Reconcile(_ context.Context, broadcastID string, actual int64, messages int) (*domain.BudgetTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[broadcastID]
	if !ok || b.ReconciledAt != nil {
		return nil, domain.ErrConflict
	}

	var recorded int64
	for _, t := range r.s.transactions {
		if t.BroadcastID == broadcastID {
			recorded += t.Amount
		}
	}

	now := r.s.now()
	b.ReconciledAt = &now
	diff := actual - recorded
	if diff == 0 {
		return nil, nil
	}
	t := domain.BudgetTransaction{
		ID:          uuid.NewString(),
		CampaignID:  *b.CampaignID,
		BroadcastID: broadcastID,
		Kind:        domain.TransactionAdjustment,
		Amount:      diff,
		Messages:    messages,
		CreatedAt:   now,
	}
	r.s.transactions = append(r.s.transactions, t)
	r.s.campaigns[*b.CampaignID].SpentAmount += diff
	return &t, nil
}

func (r *memBudgets) ListTransactions(_ context.Context, campaignID string) ([]domain.BudgetTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.BudgetTransaction
	for _, t := range r.s.transactions {
		if t.CampaignID == campaignID {
			out = append(out, t)
		}
	}
	return out, nil
}
