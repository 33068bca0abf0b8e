package domain

import (
	"fmt"
	"strings"
	"time"
)

// BroadcastStatus represents the lifecycle state of a broadcast.
type BroadcastStatus string

const (
	BroadcastStatusProcessing BroadcastStatus = "processing"
	BroadcastStatusCompleted  BroadcastStatus = "completed"
	BroadcastStatusFailed     BroadcastStatus = "failed"
)

func (s BroadcastStatus) String() string { return string(s) }

func (s BroadcastStatus) IsValid() bool {
	switch s {
	case BroadcastStatusProcessing, BroadcastStatusCompleted, BroadcastStatusFailed:
		return true
	}
	return false
}

func ParseBroadcastStatus(s string) (BroadcastStatus, error) {
	st := BroadcastStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid broadcast status %q", ErrValidation, s)
	}
	return st, nil
}

// RecipientFailure is one terminal per-recipient delivery failure.
type RecipientFailure struct {
	Phone       string `json:"phone"`
	Reason      string `json:"reason"`
	Permanent   bool   `json:"permanent"`
	BatchNumber int    `json:"batchNumber"`
}

// Broadcast is the append-only delivery record for one content item.
type Broadcast struct {
	ID                 string
	ContentID          string
	CampaignID         *string
	SupersedesID       *string
	CorrelationID      string
	RecipientCount     int
	SuccessCount       int
	FailureCount       int
	Status             BroadcastStatus
	BatchesTotal       int
	BatchesCompleted   int
	ProgressPercentage float64
	TemplateUsed       string
	ErrorDetails       []RecipientFailure
	StartedAt          *time.Time
	CompletedAt        *time.Time
	SweptAt            *time.Time
	ReconciledAt       *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsSweep reports whether the broadcast was created by the retry sweeper.
func (b *Broadcast) IsSweep() bool {
	return b != nil && b.SupersedesID != nil && *b.SupersedesID != ""
}

// Progress returns completed/total as a percentage in [0, 100].
func Progress(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	if completed < 0 {
		completed = 0
	}
	return float64(completed) / float64(total) * 100
}

// BroadcastResult is returned once a broadcast has been planned and triggered.
type BroadcastResult struct {
	BroadcastID    string
	ContentID      string
	RecipientCount int
	BatchesTotal   int
	Status         BroadcastStatus
	TemplateUsed   string
	// Existing is true when an already running broadcast for the content was returned.
	Existing bool
}
