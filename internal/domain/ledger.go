package domain

import "time"

// TransactionKind distinguishes plan-time reservations from completion-time corrections.
type TransactionKind string

const (
	TransactionReservation TransactionKind = "reservation"
	TransactionAdjustment  TransactionKind = "adjustment"
)

// BudgetTransaction is an append-only ledger entry. Amounts are in cents; adjustments may be negative.
type BudgetTransaction struct {
	ID          string
	CampaignID  string
	BroadcastID string
	Kind        TransactionKind
	Amount      int64
	Messages    int
	CreatedAt   time.Time
}

// BudgetDecision is the answer of a budget check.
type BudgetDecision struct {
	Allowed   bool
	Reason    string
	Remaining int64
}

// ComplianceRecord is the write-once audit row for one broadcast.
type ComplianceRecord struct {
	ID                  string
	BroadcastID         string
	ContentID           string
	TemplateUsed        string
	Channel             string
	SponsorDisclosed    bool
	OptOutIncluded      bool
	ContentLinkIncluded bool
	CreatedAt           time.Time
}
