package queue

import (
	"testing"
)

func TestQueueNames(t *testing.T) {
	if BatchQueue != "broadcast.batches" {
		t.Fatalf("BatchQueue = %s, want broadcast.batches", BatchQueue)
	}
	if BatchDLQ != "dlq.broadcast.batches" {
		t.Fatalf("BatchDLQ = %s, want dlq.broadcast.batches", BatchDLQ)
	}
}

func TestPriorityValue(t *testing.T) {
	tests := []struct {
		name       string
		generation int
		want       uint8
	}{
		{name: "first dispatch", generation: 0, want: 1},
		{name: "first retry", generation: 1, want: 2},
		{name: "second retry", generation: 2, want: 3},
		{name: "beyond max", generation: 7, want: 3},
		{name: "negative", generation: -1, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriorityValue(tt.generation)
			if got != tt.want {
				t.Fatalf("PriorityValue(%d) = %d, want %d", tt.generation, got, tt.want)
			}
		})
	}
}

func TestBatchMessageValidate(t *testing.T) {
	msg := BatchMessage{
		BatchID:     "b1",
		BroadcastID: "bc1",
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.BatchID = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty batch id")
	}

	msg.BatchID = "b1"
	msg.BroadcastID = " "
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty broadcast id")
	}

	msg.BroadcastID = "bc1"
	msg.Generation = -1
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for negative generation")
	}
}
