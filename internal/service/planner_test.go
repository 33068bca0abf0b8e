package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
)

func phoneList(n int) []string {
	phones := make([]string, n)
	for i := range phones {
		phones[i] = testPhone(i)
	}
	return phones
}

func TestPartition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		count int
		size  int
		want  []int
	}{
		{name: "uneven tail", count: 120, size: 50, want: []int{50, 50, 20}},
		{name: "exact multiple", count: 100, size: 50, want: []int{50, 50}},
		{name: "smaller than one batch", count: 7, size: 50, want: []int{7}},
		{name: "empty", count: 0, size: 50, want: []int{}},
		{name: "non-positive size uses default", count: 51, size: 0, want: []int{50, 1}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			phones := phoneList(tt.count)
			parts := Partition(phones, tt.size)

			sizes := make([]int, 0, len(parts))
			var joined []string
			for _, p := range parts {
				sizes = append(sizes, len(p))
				joined = append(joined, p...)
			}
			if !reflect.DeepEqual(sizes, tt.want) {
				t.Fatalf("sizes = %v, want %v", sizes, tt.want)
			}
			if len(phones) > 0 && !reflect.DeepEqual(joined, phones) {
				t.Fatal("partitions must keep every recipient in order")
			}
			if again := Partition(phones, tt.size); !reflect.DeepEqual(again, parts) {
				t.Fatal("partition must be deterministic")
			}
		})
	}
}

func TestPartitionDoesNotAliasInput(t *testing.T) {
	t.Parallel()

	phones := phoneList(3)
	parts := Partition(phones, 2)
	parts[0][0] = "changed"
	if phones[0] == "changed" {
		t.Fatal("partition should copy recipients")
	}
}

func TestPlannerPlan(t *testing.T) {
	t.Parallel()

	state := newMemState()
	if err := state.broadcastRepo().Create(context.Background(), &domain.Broadcast{ID: "b1", Status: domain.BroadcastStatusProcessing}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	planner, err := NewPlanner(state.batchRepo())
	if err != nil {
		t.Fatalf("NewPlanner() error = %v", err)
	}
	n := 0
	planner.newID = func() string {
		n++
		return "batch-" + strings.Repeat("x", n)
	}

	ids, err := planner.Plan(context.Background(), "b1", phoneList(120), 50)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if want := []string{"batch-x", "batch-xx", "batch-xxx"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}

	batches := state.batchesOf("b1")
	for i, b := range batches {
		if b.BatchNumber != i+1 || b.ID != ids[i] {
			t.Fatalf("batch %d = number %d id %s", i, b.BatchNumber, b.ID)
		}
		if b.Status != domain.BatchStatusPending || b.RetryCount != 0 {
			t.Fatalf("batch %d status = %s retry = %d", b.BatchNumber, b.Status, b.RetryCount)
		}
		if !reflect.DeepEqual(b.Recipients, b.PendingRecipients) {
			t.Fatalf("batch %d pending recipients differ from recipients", b.BatchNumber)
		}
	}
	if got := state.broadcast("b1").BatchesTotal; got != 3 {
		t.Fatalf("batches_total = %d, want 3", got)
	}
}

func TestPlannerPlanErrors(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("unique violation")
	planner, err := NewPlanner(&fakeBatchRepo{
		createPlanFn: func(ctx context.Context, broadcastID string, batches []*domain.BroadcastBatch) error {
			return storeErr
		},
	})
	if err != nil {
		t.Fatalf("NewPlanner() error = %v", err)
	}

	if _, err := planner.Plan(context.Background(), "", phoneList(3), 50); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Plan() without broadcast id error = %v, want ErrValidation", err)
	}
	if _, err := planner.Plan(context.Background(), "b1", phoneList(3), 50); !errors.Is(err, storeErr) {
		t.Fatalf("Plan() error = %v, want wrapped store error", err)
	}
	if _, err := NewPlanner(nil); err == nil {
		t.Fatal("NewPlanner(nil) should fail")
	}
}
