package domain

import "time"

// BatchStatus represents the processing state of a broadcast batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
)

// MaxBatchRetries bounds batch-level re-dispatch; retry_count never exceeds it.
const MaxBatchRetries = 2

// DefaultBatchSize is the number of recipients per planned batch.
const DefaultBatchSize = 50

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted:
		return true
	}
	return false
}

// BroadcastBatch is a slice of a broadcast's recipients owned by one dispatcher invocation.
//
// Recipients is the original membership and never changes. PendingRecipients is the
// work list of the current generation: equal to Recipients at creation and replaced by
// the transiently failed subset on each batch-level retry. PublishedAt is the last time
// a task for the batch was handed to the queue.
type BroadcastBatch struct {
	ID                string
	BroadcastID       string
	BatchNumber       int
	Recipients        []string
	PendingRecipients []string
	Status            BatchStatus
	SuccessCount      int
	FailureCount      int
	FailedRecipients  []string
	ErrorDetails      []RecipientFailure
	RetryCount        int
	StartedAt         *time.Time
	CompletedAt       *time.Time
	PublishedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// GenerationResult is the outcome of one pass over a batch's pending recipients.
type GenerationResult struct {
	Succeeded int
	// Transient failures may be retried at batch level.
	Transient []RecipientFailure
	// Permanent failures are terminal on first occurrence.
	Permanent []RecipientFailure
}

func (r GenerationResult) Failed() int {
	return len(r.Transient) + len(r.Permanent)
}

// ShouldRetry applies the batch-level retry rule: some transient failures, retry budget
// left, and failures below half of the generation's recipients.
func ShouldRetry(result GenerationResult, pending int, retryCount int) bool {
	if len(result.Transient) == 0 {
		return false
	}
	if retryCount >= MaxBatchRetries {
		return false
	}
	return result.Failed()*2 < pending
}
