package crawler

import (
	"context"
	"fmt"
	"time"
)

// Pauser abstracts courtesy delays so tests can observe or skip them.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// TimerPauser sleeps on a timer and returns early when ctx ends.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
