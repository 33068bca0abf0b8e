package ratelimit

import "time"

const (
	MinAdaptiveDelay     = 150 * time.Millisecond
	MaxAdaptiveDelay     = 500 * time.Millisecond
	InitialAdaptiveDelay = 200 * time.Millisecond

	adaptiveSuccessStep = 10 * time.Millisecond
	adaptiveFailureStep = 50 * time.Millisecond
	// The delay only grows once consecutive failures exceed this count.
	failureStreakThreshold = 3
)

// AdaptiveDelay is the inter-send pause of one batch. It is a value: each outcome
// returns the next state, so a dispatch loop owns its own copy.
type AdaptiveDelay struct {
	current             time.Duration
	consecutiveFailures int
}

func NewAdaptiveDelay() AdaptiveDelay {
	return AdaptiveDelay{current: InitialAdaptiveDelay}
}

// AdaptiveDelayFrom returns a delay starting at d, clamped to the allowed band.
func AdaptiveDelayFrom(d time.Duration) AdaptiveDelay {
	return AdaptiveDelay{current: clamp(d)}
}

func (d AdaptiveDelay) Current() time.Duration {
	if d.current == 0 {
		return InitialAdaptiveDelay
	}
	return d.current
}

func (d AdaptiveDelay) ConsecutiveFailures() int { return d.consecutiveFailures }

// OnSuccess resets the failure streak and steps the delay toward the floor.
func (d AdaptiveDelay) OnSuccess() AdaptiveDelay {
	current := d.Current()
	if current > MinAdaptiveDelay {
		current -= adaptiveSuccessStep
	}
	return AdaptiveDelay{current: clamp(current)}
}

// OnFailure extends the failure streak and backs off once it exceeds the threshold.
func (d AdaptiveDelay) OnFailure() AdaptiveDelay {
	next := AdaptiveDelay{
		current:             d.Current(),
		consecutiveFailures: d.consecutiveFailures + 1,
	}
	if next.consecutiveFailures > failureStreakThreshold {
		next.current = clamp(next.current + adaptiveFailureStep)
	}
	return next
}

func clamp(d time.Duration) time.Duration {
	if d < MinAdaptiveDelay {
		return MinAdaptiveDelay
	}
	if d > MaxAdaptiveDelay {
		return MaxAdaptiveDelay
	}
	return d
}
