package window

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CustomerCareWindow is how long after an inbound message free-form messages are allowed.
const CustomerCareWindow = 24 * time.Hour

// ActivityStore reads the last inbound message time of a phone number; nil means never.
type ActivityStore interface {
	GetLastInboundAt(ctx context.Context, phone string) (*time.Time, error)
}

// ActivityRecorder stores that a phone sent an inbound message at a given time.
type ActivityRecorder interface {
	RecordInbound(ctx context.Context, phone string, at time.Time) error
}

// Oracle answers whether a free-form message may be sent to a recipient right now.
type Oracle struct {
	activity ActivityStore
	window   time.Duration
	now      func() time.Time
}

func NewOracle(activity ActivityStore) (*Oracle, error) {
	if activity == nil {
		return nil, fmt.Errorf("activity store is required")
	}
	return &Oracle{
		activity: activity,
		window:   CustomerCareWindow,
		now:      time.Now,
	}, nil
}

// IsWithinWindow is true iff the recipient sent an inbound message less than 24h ago.
func (o *Oracle) IsWithinWindow(ctx context.Context, phone string) (bool, error) {
	if strings.TrimSpace(phone) == "" {
		return false, fmt.Errorf("phone is required")
	}

	last, err := o.activity.GetLastInboundAt(ctx, phone)
	if err != nil {
		return false, fmt.Errorf("failed to read last inbound time: %w", err)
	}
	if last == nil {
		return false, nil
	}

	age := o.now().Sub(*last)
	return age >= 0 && age < o.window, nil
}

// ActivityReadWriter is a store the FallbackStore can both read and update.
type ActivityReadWriter interface {
	ActivityStore
	ActivityRecorder
}

// FallbackStore reads from primary and consults secondary only when primary has no entry.
// Writes go to secondary first, then primary.
type FallbackStore struct {
	primary   ActivityReadWriter
	secondary ActivityReadWriter
}

func NewFallbackStore(primary ActivityReadWriter, secondary ActivityReadWriter) *FallbackStore {
	return &FallbackStore{primary: primary, secondary: secondary}
}

// RecordInbound writes at to both stores. A primary failure is returned but does not
// undo the secondary write.
func (s *FallbackStore) RecordInbound(ctx context.Context, phone string, at time.Time) error {
	if strings.TrimSpace(phone) == "" {
		return fmt.Errorf("phone is required")
	}

	var errs []error
	if s.secondary != nil {
		if err := s.secondary.RecordInbound(ctx, phone, at); err != nil {
			errs = append(errs, fmt.Errorf("secondary: %w", err))
		}
	}
	if s.primary != nil {
		if err := s.primary.RecordInbound(ctx, phone, at); err != nil {
			errs = append(errs, fmt.Errorf("primary: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *FallbackStore) GetLastInboundAt(ctx context.Context, phone string) (*time.Time, error) {
	var primaryErr error
	if s.primary != nil {
		last, err := s.primary.GetLastInboundAt(ctx, phone)
		if err == nil && last != nil {
			return last, nil
		}
		primaryErr = err
	}

	if s.secondary == nil {
		return nil, primaryErr
	}

	last, err := s.secondary.GetLastInboundAt(ctx, phone)
	if err != nil {
		if primaryErr != nil {
			return nil, fmt.Errorf("%w (primary: %v)", err, primaryErr)
		}
		return nil, err
	}
	return last, nil
}
